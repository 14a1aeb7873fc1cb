package browser

// Indicators probed by CheckAuthentication, in order. Admin signals are
// checked before anonymous ones.
var (
	AdminIndicators = []string{
		"#toolbar-administration",
		`a[href*="/admin/content"]`,
		"body.user-logged-in",
		`a[href*="/user/logout"]`,
	}
	LoginIndicators = []string{
		"form#user-login-form",
		`input[name="name"][id*="edit-name"]`,
		`input[name="pass"]`,
	}
)

const (
	ReasonLoginPage    = "on login page"
	ReasonNoIndicators = "no indicators found"
)

// AuthStatus is the result of probing the live page.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	AdminAccess   bool   `json:"adminAccess"`
	Reason        string `json:"reason,omitempty"`
	Indicator     string `json:"indicator,omitempty"`
	URL           string `json:"url"`
	Title         string `json:"title,omitempty"`
}

// CheckAuthentication inspects the DOM of the live page. It does not
// navigate. Each indicator gets a short wait; the first match decides.
func (m *Manager) CheckAuthentication() (*AuthStatus, error) {
	var res *AuthStatus
	err := m.run("checkAuthentication", func() error {
		page, err := m.requirePage("checkAuthentication")
		if err != nil {
			return err
		}

		res = &AuthStatus{URL: page.URL()}
		if title, err := page.Title(); err == nil {
			res.Title = title
		}

		if sel, ok := probe(page, AdminIndicators); ok {
			res.Authenticated = true
			res.AdminAccess = true
			res.Indicator = sel
			return nil
		}
		if sel, ok := probe(page, LoginIndicators); ok {
			res.Reason = ReasonLoginPage
			res.Indicator = sel
			return nil
		}
		res.Reason = ReasonNoIndicators
		return nil
	})
	return res, err
}

func probe(page Page, selectors []string) (string, bool) {
	for _, sel := range selectors {
		if err := page.WaitForSelector(sel, indicatorTimeout); err == nil {
			return sel, true
		}
	}
	return "", false
}
