package mutation

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	seen := map[string]bool{}
	for _, k := range Kinds {
		name := k.String()
		if name == "Unknown" || seen[name] {
			t.Errorf("Kind(%d).String() = %q, expected a unique name", k, name)
		}
		seen[name] = true
	}
	if len(Kinds) != 10 {
		t.Errorf("expected 10 kinds, got %d", len(Kinds))
	}
	if KindUnknown.String() != "Unknown" {
		t.Errorf("KindUnknown.String() = %q", KindUnknown.String())
	}
}

func TestOnlyBaseChangedIsRetryable(t *testing.T) {
	for _, k := range Kinds {
		if got, want := k.Retryable(), k == BaseChanged; got != want {
			t.Errorf("%s.Retryable() = %v, expected %v", k, got, want)
		}
	}
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("apply contract: %w", NewBaseChanged("app/x.py", "sha256:aaa", "sha256:bbb"))

	assert.True(t, errors.Is(err, ErrBaseChanged))
	assert.False(t, errors.Is(err, ErrLowConfidence))
	assert.Equal(t, BaseChanged, KindOf(err))
	assert.True(t, IsRetryable(err))

	var me *Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "sha256:aaa", me.Expected)
	assert.Equal(t, "sha256:bbb", me.Actual)

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestEverySentinelMatchesItsKind(t *testing.T) {
	for _, k := range Kinds {
		e := &Error{Kind: k}
		if !errors.Is(e, k.Sentinel()) {
			t.Errorf("errors.Is(%s, sentinel) = false", k)
		}
		for _, other := range Kinds {
			if other != k && errors.Is(e, other.Sentinel()) {
				t.Errorf("%s unexpectedly matches %s sentinel", k, other)
			}
		}
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want []string
	}{
		{"extraction", NewExtractionFailed("no hunk header"), []string{"EXTRACTION_FAILED", "no hunk header"}},
		{"scope", NewScopeViolation([]string{"secrets/key.pem (in denylist)"}), []string{"SCOPE_VIOLATION", "1 path(s)", "secrets/key.pem (in denylist)"}},
		{"application", NewApplicationFailed([]string{"strict", "threeway"}, errors.New("patch rejected")), []string{"APPLICATION_FAILED", "strict, threeway", "patch rejected"}},
		{"base", NewBaseChanged("a.py", "sha256:1", "sha256:2"), []string{"BASE_CHANGED", "a.py", "sha256:1", "sha256:2"}},
		{"confidence", NewLowConfidence(0.5, 0.75), []string{"LOW_CONFIDENCE", "0.50", "0.75"}},
		{"mismatch", NewPathMismatch("b.py", "a.py"), []string{"PATH_MISMATCH", `"b.py"`, `"a.py"`}},
		{"oversize", NewOversizeContent("a.py", 2000, 1000), []string{"OVERSIZE_OUTPUT", "2000", "1000"}},
		{"keep removed", NewKeepBlockViolation("a.py", "auth", BlockRemoved, ""), []string{"KEEP_BLOCK_REMOVED", `"auth"`, "removed"}},
		{"keep modified", NewKeepBlockViolation("a.py", "auth", BlockModified, ""), []string{"KEEP_BLOCK_MODIFIED"}},
		{"syntax", NewSyntaxInvalid("a.py", "python", 3, 7, "unexpected token"), []string{"SYNTAX_INVALID", "a.py:3:7", "unexpected token"}},
		{"unsafe", NewUnsafePath("../x", "outside repository"), []string{"UNSAFE_PATH", "../x", "outside repository"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, part := range tt.want {
				if !strings.Contains(msg, part) {
					t.Errorf("Error() = %q, missing %q", msg, part)
				}
			}
		})
	}
}

func TestUnwrapCause(t *testing.T) {
	cause := errors.New("git apply exited 1")
	err := NewApplicationFailed([]string{"strict"}, cause)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrApplicationFailed))
}
