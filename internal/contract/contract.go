package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fulmenhq/reface/internal/schema"
)

// SchemaName is the embedded schema a contract document must satisfy.
const SchemaName = "contract-v1"

// DefaultConfidence applies when a contract omits confidence or states it unreadably.
const DefaultConfidence = 0.8

// ErrInvalidContract is returned by ParseContract for output that is not a usable contract.
var ErrInvalidContract = errors.New("invalid rewrite contract")

// Contract is a proposed full-file rewrite bound to the hash of the content it was computed from.
type Contract struct {
	FilePath   string   `json:"file_path"`
	PreHash    string   `json:"pre_hash"`
	NewContent string   `json:"new_content"`
	Changelog  []string `json:"changelog"`
	Confidence float64  `json:"confidence"`
}

// ContentHash returns the "sha256:<hex>" digest used for pre_hash comparison.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ParseContract recovers a contract from raw generator output. Fences are stripped
// and the outermost object is validated against the embedded schema.
func ParseContract(raw string) (*Contract, error) {
	text := stripFence(raw)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object found", ErrInvalidContract)
	}
	body := []byte(text[start : end+1])

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContract, err)
	}
	res, err := schema.Validate(doc, SchemaName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContract, err)
	}
	if !res.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContract, res.Summary())
	}

	c := &Contract{
		FilePath:   strings.TrimSpace(stringField(doc, "file_path")),
		PreHash:    strings.TrimSpace(stringField(doc, "pre_hash")),
		NewContent: stringField(doc, "new_content"),
		Confidence: confidence(doc["confidence"]),
	}
	if c.FilePath == "" {
		return nil, fmt.Errorf("%w: empty file_path", ErrInvalidContract)
	}
	if c.NewContent == "" {
		return nil, fmt.Errorf("%w: empty new_content", ErrInvalidContract)
	}
	if items, ok := doc["changelog"].([]interface{}); ok {
		for _, item := range items {
			c.Changelog = append(c.Changelog, changelogEntry(item))
		}
	}
	return c, nil
}

// stripFence removes a fence wrapping the whole output. Fences inside
// new_content are left alone.
func stripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	return strings.TrimSuffix(strings.TrimSpace(text), "```")
}

func stringField(doc map[string]interface{}, key string) string {
	s, _ := doc[key].(string)
	return s
}

func confidence(v interface{}) float64 {
	f := DefaultConfidence
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			f = parsed
		}
	}
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func changelogEntry(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
