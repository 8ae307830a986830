package story

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_LoginStory(t *testing.T) {
	raw := `Title: User Login
As a registered user, I want to log into the system so that I can access my account.

Acceptance Criteria:
1. User can login with valid email and password
2. Invalid credentials show an error message
3. Rate limit after 5 failed attempts
4. Session expires after 30 minutes of inactivity
`
	s, warnings, err := Parse(raw)
	require.NoError(t, err)

	assert.Empty(t, warnings)
	assert.Equal(t, "User Login", s.Title)
	assert.Equal(t, []string{"registered user"}, s.Actors)
	assert.Equal(t, "log into the system", s.Goal)
	assert.Equal(t, "I can access my account", s.Benefit)
	assert.Equal(t, []string{
		"User can login with valid email and password",
		"Invalid credentials show an error message",
		"Rate limit after 5 failed attempts",
		"Session expires after 30 minutes of inactivity",
	}, s.AcceptanceCriteria)
	assert.Equal(t, "AC3", s.CriterionID(3))

	md := s.Metadata()
	assert.Equal(t, "User Login", md.StoryTitle)
	assert.Equal(t, "log into the system", md.PrimaryGoal)
	assert.Equal(t, 4, md.AcceptanceCriteriaCount)
}

func TestParse_Title(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "title prefix is case-insensitive",
			raw:  "TITLE: Password Reset\nAs a user, I want to reset my password",
			want: "Password Reset",
		},
		{
			name: "markdown heading",
			raw:  "# Shopping Cart\n\nAs a shopper, I want to add items to my cart",
			want: "Shopping Cart",
		},
		{
			name: "first non-empty line",
			raw:  "\n\nProfile editing\nAs a member, I want to edit my profile",
			want: "Profile editing",
		},
		{
			name: "bare story sentence derives title from goal",
			raw:  "As a registered user, I want to log into the system so that I can access my account",
			want: "Log Into The System",
		},
		{
			name: "title line anywhere wins over first line",
			raw:  "Some preamble text\nTitle: Checkout\nAs a buyer, I want to pay",
			want: "Checkout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Title)
		})
	}
}

func TestParse_Actors(t *testing.T) {
	raw := `Title: Admin tools
As an administrator, I want to manage users.
As a support agent, I want to view tickets.
As an Administrator, I want to audit logs.`

	s, _, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"administrator", "support agent"}, s.Actors)
	assert.Equal(t, "administrator", s.PrimaryActor())
	assert.Equal(t, "manage users", s.Goal)
}

func TestParse_ActorAfterLabel(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"colon label", "User story: As a customer, I want to check out my cart", []string{"customer"}},
		{"dash label", "Checkout - As a guest, I want to pay without an account", []string{"guest"}},
		{"en dash label", "Checkout \u2013 As a guest, I want to pay without an account", []string{"guest"}},
		{"such as is not an actor", "Title: Reports\nReports such as a monthly summary are exported", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, warnings, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Actors)

			var actorWarned bool
			for _, w := range warnings {
				actorWarned = actorWarned || w.Code == WarnActorNotDetected
			}
			assert.Equal(t, tt.want == nil, actorWarned)
		})
	}
}

func TestParse_CriteriaFormats(t *testing.T) {
	raw := `Title: Upload
As a user, I want to upload files

## Acceptance Criteria
- [ ] Files up to 10 MB are accepted
* Only PNG and JPG formats are allowed
• Upload progress is shown
2) Failed uploads can be retried

## Notes
- this is not a criterion`

	s, _, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Files up to 10 MB are accepted",
		"Only PNG and JPG formats are allowed",
		"Upload progress is shown",
		"Failed uploads can be retried",
	}, s.AcceptanceCriteria)
}

func TestParse_WithOptions(t *testing.T) {
	raw := "As a shopper, I want to check out\n\nAcceptance Criteria:\n1. Cart total is shown"

	s, _, err := Parse(raw,
		WithTitle("  Checkout  "),
		WithCriteria("cart total is shown", "Payment is confirmed", ""))
	require.NoError(t, err)

	assert.Equal(t, "Checkout", s.Title)
	assert.Equal(t, []string{"Cart total is shown", "Payment is confirmed"}, s.AcceptanceCriteria)
}

func TestParse_Warnings(t *testing.T) {
	s, warnings, err := Parse("Title: Reporting dashboard\nShows weekly numbers for the team")
	require.NoError(t, err)
	assert.Equal(t, "Reporting dashboard", s.Title)

	codes := make([]WarningCode, len(warnings))
	for i, w := range warnings {
		codes[i] = w.Code
	}
	assert.Equal(t, []WarningCode{WarnActorNotDetected, WarnGoalNotDetected, WarnEmptyCriteria}, codes)
	assert.Len(t, WarningStrings(warnings), 3)
	assert.Nil(t, WarningStrings(nil))
	assert.Equal(t, "user", s.PrimaryActor())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", " \n\t\n "},
		{"too short", "login"},
		{"no signal", "\n   ...   \n---\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, warnings, err := Parse(tt.raw)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Nil(t, warnings)

			assert.True(t, IsParseError(err))
			assert.True(t, errors.Is(err, ErrNoStorySignal))

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.NotEmpty(t, pe.Reason)
		})
	}
}

func TestParse_WindowsLineEndings(t *testing.T) {
	raw := "Title: Login\r\nAs a user, I want to sign in\r\n\r\nAcceptance Criteria:\r\n1. Works\r\n"

	s, _, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Login", s.Title)
	assert.Equal(t, []string{"Works"}, s.AcceptanceCriteria)
}
