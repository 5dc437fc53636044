package scenario

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
	"github.com/xkilldash9x/widgetprobe/internal/browser/static"
	"github.com/xkilldash9x/widgetprobe/internal/collector"
	"github.com/xkilldash9x/widgetprobe/internal/executor"
	"github.com/xkilldash9x/widgetprobe/internal/orchestrator"
	"github.com/xkilldash9x/widgetprobe/internal/resolver"
)

func TestLoad(t *testing.T) {
	sc, err := Load(filepath.Join("testdata", "probe.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "newsletter-signup", sc.Name)
	assert.Equal(t, []string{"/api/", "**/subscribe*"}, sc.Patterns)
	require.Len(t, sc.Steps, 7)

	assert.Equal(t, "https://blog.test/post/1", sc.Steps[0].URL, "empty navigate url takes the scenario url")
	assert.Equal(t, 2*time.Second, sc.Steps[1].Timeout)
	assert.Equal(t, "email field", sc.Steps[2].Ref)
	assert.Equal(t, schemas.StepWait, sc.Steps[4].Kind)
	assert.True(t, sc.Steps[4].ContinueOnFailure)

	a := sc.Steps[6].Assert
	require.NotNil(t, a)
	assert.Equal(t, schemas.CompareGreaterEqual, a.Comparator)
	assert.True(t, a.Required)
	n, ok := a.Literal.Float()
	require.True(t, ok)
	assert.Equal(t, 1.0, n)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	t.Run("relative navigate url", func(t *testing.T) {
		sc, err := Parse([]byte(`
name: relative
url: https://blog.test/games/steal-a-brainrot
steps:
  - kind: navigate
    url: ../about?tab=comments
`))
		require.NoError(t, err)
		assert.Equal(t, "https://blog.test/about?tab=comments", sc.Steps[0].URL)
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		_, err := Parse([]byte(`
name: typo
steps:
  - kind: wait
    durration: 1s
`))
		assert.ErrorContains(t, err, "durration")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("name: [unterminated"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	locate := schemas.Step{Name: "box", Kind: schemas.StepLocate, Targets: schemas.Candidates("textarea")}

	testCases := []struct {
		name    string
		sc      schemas.Scenario
		wantErr string
	}{
		{
			name:    "missing name",
			sc:      schemas.Scenario{Steps: []schemas.Step{{Kind: schemas.StepWait}}},
			wantErr: "Scenario.Name",
		},
		{
			name:    "no steps",
			sc:      schemas.Scenario{Name: "empty"},
			wantErr: "no steps",
		},
		{
			name:    "unknown kind",
			sc:      schemas.Scenario{Name: "x", Steps: []schemas.Step{{Kind: "hover"}}},
			wantErr: `unknown kind "hover"`,
		},
		{
			name:    "navigate without url",
			sc:      schemas.Scenario{Name: "x", Steps: []schemas.Step{{Kind: schemas.StepNavigate}}},
			wantErr: "navigate needs a url",
		},
		{
			name:    "empty candidate query",
			sc:      schemas.Scenario{Name: "x", Steps: []schemas.Step{{Kind: schemas.StepLocate, Targets: []schemas.SelectorCandidate{{Query: ""}}}}},
			wantErr: "Query",
		},
		{
			name:    "click without anything to click",
			sc:      schemas.Scenario{Name: "x", Steps: []schemas.Step{{Kind: schemas.StepClick}}},
			wantErr: "needs targets, a ref or an earlier locate step",
		},
		{
			name: "ref to a later locate",
			sc: schemas.Scenario{Name: "x", Steps: []schemas.Step{
				{Kind: schemas.StepFill, Ref: "box"},
				locate,
			}},
			wantErr: `ref "box" does not name an earlier locate step`,
		},
		{
			name:    "duplicate names",
			sc:      schemas.Scenario{Name: "x", Steps: []schemas.Step{locate, locate}},
			wantErr: "name already used by step 0",
		},
		{
			name:    "count without capture",
			sc:      schemas.Scenario{Name: "x", Steps: []schemas.Step{{Kind: schemas.StepCount, Targets: schemas.Candidates(".c")}}},
			wantErr: "count needs capture_as",
		},
		{
			name: "assert with both operands",
			sc: schemas.Scenario{Name: "x", Steps: []schemas.Step{{Kind: schemas.StepAssert, Assert: &schemas.Assertion{
				Left: "a", Right: "b", Literal: schemas.NumberValue(1), Comparator: schemas.CompareEqual,
			}}}},
			wantErr: "exactly one of right or literal",
		},
		{
			name: "bad comparator",
			sc: schemas.Scenario{Name: "x", Steps: []schemas.Step{{Kind: schemas.StepAssert, Assert: &schemas.Assertion{
				Left: "a", Right: "b", Comparator: "~=",
			}}}},
			wantErr: `unknown comparator "~="`,
		},
		{
			name:    "negative duration",
			sc:      schemas.Scenario{Name: "x", Steps: []schemas.Step{{Kind: schemas.StepWait, Duration: -time.Second}}},
			wantErr: "must not be negative",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.sc)
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("target-less fill after a locate is fine", func(t *testing.T) {
		sc := schemas.Scenario{Name: "ok", Steps: []schemas.Step{locate, {Kind: schemas.StepFill, Text: "hi"}}}
		assert.NoError(t, Validate(&sc))
	})
}

func TestBuiltin_IsValid(t *testing.T) {
	sc := Builtin("https://blog.test/post/1")
	require.NoError(t, Validate(&sc))
	assert.Equal(t, BuiltinName, sc.Name)
	assert.Equal(t, "https://blog.test/post/1", sc.Steps[0].URL)
}

// The built-in probe against a static copy of a comment widget: everything
// resolves, but nothing answers on the network and the list cannot grow.
func TestBuiltin_AgainstStaticPage(t *testing.T) {
	page, err := static.Open(filepath.Join("testdata", "comments.html"))
	require.NoError(t, err)

	sc := Builtin("https://blog.test/post/1")
	for i := range sc.Steps {
		if sc.Steps[i].Kind == schemas.StepWait {
			sc.Steps[i].Timeout = 50 * time.Millisecond
		}
	}

	logger := zaptest.NewLogger(t)
	exec := executor.New(logger, resolver.New(logger), executor.Config{ResolveTimeout: 200 * time.Millisecond})
	orch, err := orchestrator.New(logger, exec, collector.DefaultConfig(), orchestrator.Config{})
	require.NoError(t, err)

	report := orch.Run(context.Background(), page, sc)

	statuses := make(map[string]schemas.StepStatus, len(report.Steps))
	for _, o := range report.Steps {
		statuses[o.Name] = o.Status
	}
	require.Len(t, report.Steps, len(sc.Steps))
	assert.Equal(t, schemas.StatusWarning, statuses["comments api"])
	assert.Equal(t, schemas.StatusWarning, statuses["comment appeared"])
	for name, status := range statuses {
		if name == "comments api" || name == "comment appeared" {
			continue
		}
		assert.Equal(t, schemas.StatusSuccess, status, name)
	}
	assert.Equal(t, schemas.VerdictDegraded, report.Verdict)

	before, _ := report.Steps[8].Value.Float()
	assert.Equal(t, 2.0, before)

	fills := map[string]string{}
	for _, a := range page.Actions() {
		if a.Kind == "fill" {
			fills[a.Element] = a.Text
		}
	}
	assert.Equal(t, "widgetprobe", fills["input[name=name]"])
	assert.Equal(t, "probe@example.com", fills["input[name=email]"])
	assert.Equal(t, "widgetprobe automated reply.", fills["textarea[name=reply]"])

	assert.Empty(t, report.Events, "the page navigation is outside the /api/ patterns")
}
