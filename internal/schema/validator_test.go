package schema

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const validHash = "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestRegistryLoadsEmbeddedSchemas(t *testing.T) {
	names := strings.Join(Names(), ",")
	for _, want := range []string{"contract-v1", "ledger-v1"} {
		if !strings.Contains(names, want) {
			t.Errorf("schema %s not registered (have %s)", want, names)
		}
	}
}

func TestValidateContract(t *testing.T) {
	valid := `{"file_path":"a.py","pre_hash":"` + validHash + `","new_content":"x = 1\n","changelog":["set x"],"confidence":0.9}`
	res, err := ValidateJSON([]byte(valid), "contract-v1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Errorf("expected valid contract, got errors: %v", res.Errors)
	}

	missing := `{"file_path":"a.py","new_content":"x"}`
	res, err = ValidateJSON([]byte(missing), "contract-v1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("expected invalid contract")
	}
	if !strings.Contains(res.Summary(), "pre_hash") {
		t.Errorf("summary should mention pre_hash: %s", res.Summary())
	}

	badHash := `{"file_path":"a.py","pre_hash":"md5:abc","new_content":"x","changelog":[]}`
	res, err = ValidateJSON([]byte(badHash), "contract-v1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Error("expected pre_hash pattern failure")
	}
}

func TestValidateLedger(t *testing.T) {
	doc := `
thread_id: T-1
status: open
scope:
  must_edit: [a.go]
  must_not_edit: []
snapshots: {}
decisions:
  - ts: "2025-01-01T00:00:00Z"
    actor: reviewer
    note: looks good
created_at: "2025-01-01T00:00:00Z"
updated_at: "2025-01-01T00:00:00Z"
`
	var v interface{}
	if err := yaml.Unmarshal([]byte(doc), &v); err != nil {
		t.Fatal(err)
	}
	res, err := Validate(v, "ledger-v1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Errorf("expected valid ledger, got %v", res.Errors)
	}

	bad := strings.Replace(doc, "actor: reviewer", "actor: \"\"", 1)
	var badDoc interface{}
	if err := yaml.Unmarshal([]byte(bad), &badDoc); err != nil {
		t.Fatal(err)
	}
	res, err = Validate(badDoc, "ledger-v1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Error("empty actor should fail validation")
	}
}

func TestValidateUnknownSchema(t *testing.T) {
	if _, err := Validate(map[string]interface{}{}, "nonexistent"); err == nil {
		t.Error("expected error for unknown schema")
	}
	if _, err := ValidateJSON([]byte("{"), "contract-v1"); err == nil {
		t.Error("expected parse error")
	}
}
