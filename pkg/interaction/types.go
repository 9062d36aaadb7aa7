// pkg/interaction/types.go

package interaction

const (
	EnterChoicePrompt = "Enter choice number"

	// maxSelectAttempts bounds re-prompting on invalid input.
	maxSelectAttempts = 5
)
