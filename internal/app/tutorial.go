package app

// Step is one item of the "How to use" guide.
type Step struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// Tutorial is the "How to use" guide. The admin part is only filled in
// for admins.
type Tutorial struct {
	Title   string `json:"title"`
	Members []Step `json:"members"`
	Admins  []Step `json:"admins,omitempty"`
	Tasks   []Step `json:"adminTasks,omitempty"`
}

var memberSteps = []Step{
	{Title: "Sign In", Text: "You are signed in automatically when you open the app. This links you to your profile."},
	{Title: "Create Profile (One Time Only)", Text: "The first time you use the app you will see a form. Fill out all fields and check the waiver confirmation box."},
	{Title: "Important", Text: "Your profile is tied to your current device and browser. On a different device or browser you will have to create a new profile, so try to use the same one every week."},
	{Title: "Sign Up for a Session", Text: "Once your profile exists you will see the list of available climbing sessions. Press \"Sign Up\" on the session you want to attend."},
	{Title: "Cancel a Sign-Up", Text: "If you can no longer make it, press \"Cancel Sign-Up\"."},
}

var adminSteps = []Step{
	{Text: "Scroll to the footer and copy the \"Your User ID\" string."},
	{Text: "Add it to the comma-separated ADMIN_USER_IDS setting of the server and restart it."},
	{Text: "The Admin Panel then appears at the bottom of the page."},
}

var adminTasks = []Step{
	{Title: "Create a Session", Text: "Use the \"Create Session\" tab. Name and date are required; location, price, waiver link and a markdown description are optional."},
	{Title: "Get the Roster for the Gym", Text: "Open \"Manage Sessions & Rosters\" and press \"View Roster\" on the session."},
	{Title: "Share Live Link", Text: "Copies a link the gym can keep open. The roster on it updates in real time as people sign up."},
	{Title: "Copy for Sheet", Text: "Copies a static tab-separated list with every profile field, ready to paste into a spreadsheet."},
}

// NewTutorial returns the guide for a member or an admin.
func NewTutorial(isAdmin bool) Tutorial {
	t := Tutorial{Title: "How to Use the Climb CCNY App", Members: memberSteps}
	if isAdmin {
		t.Admins = adminSteps
		t.Tasks = adminTasks
	}
	return t
}
