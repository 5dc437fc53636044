package scenario

import (
	"time"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

// BuiltinName is the name of the built-in comment widget scenario.
const BuiltinName = "comment-widget"

// Capture keys used by the built-in scenario.
const (
	CommentsBefore = "comments_before"
	CommentsAfter  = "comments_after"
)

var commentItems = schemas.Candidates(".comment, [class*='comment']")

// Builtin returns the comment widget probe for the page at pageURL: fill and
// submit the comment form, wait for the comments API, check the list grew,
// then vote and reply. Only the comment box and submit button are required.
func Builtin(pageURL string) schemas.Scenario {
	return schemas.Scenario{
		Name:     BuiltinName,
		URL:      pageURL,
		Patterns: []string{"/api/"},
		Steps: []schemas.Step{
			{Name: "open page", Kind: schemas.StepNavigate, URL: pageURL},

			{Name: "name field", Kind: schemas.StepLocate, ContinueOnFailure: true, Targets: schemas.Candidates(
				"input[name='name']",
				"input[name*='author']",
				"input[placeholder*='姓名']",
				"input[placeholder*='昵称']",
				"input[placeholder*='name']",
			)},
			{Name: "fill name", Kind: schemas.StepFill, Ref: "name field", Text: "widgetprobe", ContinueOnFailure: true},

			{Name: "email field", Kind: schemas.StepLocate, ContinueOnFailure: true, Targets: schemas.Candidates(
				"input[name='email']",
				"input[type='email']",
				"input[placeholder*='邮箱']",
				"input[placeholder*='email']",
			)},
			{Name: "fill email", Kind: schemas.StepFill, Ref: "email field", Text: "probe@example.com", ContinueOnFailure: true},

			{Name: "comment box", Kind: schemas.StepLocate, Targets: schemas.Candidates(
				"textarea[name='comment']",
				"textarea[name='content']",
				"textarea[placeholder*='评论']",
				"textarea[placeholder*='comment']",
				"textarea",
			)},
			{Name: "fill comment", Kind: schemas.StepFill, Ref: "comment box", Text: "widgetprobe automated comment, please ignore."},

			{Name: "consent", Kind: schemas.StepClick, ContinueOnFailure: true, Targets: schemas.Candidates(
				"input[type='checkbox']",
				"input[name='agree']",
				"input[name='terms']",
			)},

			{Name: "count before", Kind: schemas.StepCount, Targets: commentItems, CaptureAs: CommentsBefore},

			{Name: "submit", Kind: schemas.StepClick, Targets: schemas.Candidates(
				"button[type='submit']",
				"button:has-text('提交')",
				"button:has-text('发送')",
				"button:has-text('发表')",
				"button:has-text('评论')",
				"input[type='submit']",
				".submit-btn",
			)},
			{Name: "comments api", Kind: schemas.StepWait, WaitFor: "**/api/comments**", Timeout: 10 * time.Second, ContinueOnFailure: true},

			{Name: "count after", Kind: schemas.StepCount, Targets: commentItems, CaptureAs: CommentsAfter},
			{Name: "comment appeared", Kind: schemas.StepAssert, ContinueOnFailure: true, Assert: &schemas.Assertion{
				Left:       CommentsAfter,
				Right:      CommentsBefore,
				Comparator: schemas.CompareGreater,
			}},

			{Name: "vote", Kind: schemas.StepClick, ContinueOnFailure: true, Targets: schemas.Candidates(
				"button:has-text('👍')",
				"button:has-text('赞')",
				".like-btn",
				"button[class*='like']",
				"[class*='vote']",
			)},

			{Name: "open reply", Kind: schemas.StepClick, ContinueOnFailure: true, Targets: schemas.Candidates(
				"button:has-text('回复')",
				".reply-btn",
				"button[class*='reply']",
			)},
			{Name: "fill reply", Kind: schemas.StepFill, ContinueOnFailure: true, Text: "widgetprobe automated reply.",
				Targets: schemas.LastOf("textarea")},
			{Name: "submit reply", Kind: schemas.StepClick, ContinueOnFailure: true, Targets: schemas.LastOf(
				"button:has-text('提交')",
				"button:has-text('发送')",
				"button:has-text('回复')",
			)},
		},
	}
}
