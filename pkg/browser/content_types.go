package browser

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Discovery sources.
const (
	SourceAdmin   = "admin"
	SourceNodeAdd = "node_add"
)

const (
	pathContentTypes = "/admin/structure/types"
	pathNodeAdd      = "/node/add"
)

var (
	manageTypeHref = regexp.MustCompile(`/admin/structure/types/manage/([a-z0-9_]+)`)
	nodeAddHref    = regexp.MustCompile(`/node/add/([a-z0-9_]+)`)
)

// ContentType is a discovered content type. MachineName is the identifier
// used in URLs and schemas.
type ContentType struct {
	Name        string `json:"name"`
	MachineName string `json:"machineName"`
	Description string `json:"description,omitempty"`
}

// ContentTypes is the result of QueryContentTypes.
type ContentTypes struct {
	ContentTypes []ContentType `json:"contentTypes"`
	Source       string        `json:"source"`
}

// MachineNames returns the identifiers in discovery order.
func (c *ContentTypes) MachineNames() []string {
	out := make([]string, len(c.ContentTypes))
	for i, t := range c.ContentTypes {
		out[i] = t.MachineName
	}
	return out
}

// Has reports whether id is a discovered machine name.
func (c *ContentTypes) Has(id string) bool {
	for _, t := range c.ContentTypes {
		if t.MachineName == id {
			return true
		}
	}
	return false
}

// QueryContentTypes lists content types, preferring the structure admin
// page and falling back to the node creation page.
func (m *Manager) QueryContentTypes() (*ContentTypes, error) {
	var res *ContentTypes
	err := m.run("queryContentTypes", func() error {
		page, err := m.requirePage("queryContentTypes")
		if err != nil {
			return err
		}
		res, err = m.queryContentTypes(page)
		return err
	})
	return res, err
}

func (m *Manager) queryContentTypes(page Page) (*ContentTypes, error) {
	const op = "queryContentTypes"

	adminURL, err := m.siteURL(op, pathContentTypes)
	if err != nil {
		return nil, err
	}

	if err := page.Goto(adminURL, m.cfg.NavigationTimeout); err != nil {
		m.logger.Debugf("content type admin page unavailable: %v", err)
	} else if doc, err := snapshot(op, page); err == nil {
		if types := parseAdminContentTypes(doc); len(types) > 0 {
			return &ContentTypes{ContentTypes: types, Source: SourceAdmin}, nil
		}
		m.logger.Debugf("no content type table on %s, trying %s", page.URL(), pathNodeAdd)
	}

	addURL, err := m.siteURL(op, pathNodeAdd)
	if err != nil {
		return nil, err
	}
	if err := page.Goto(addURL, m.cfg.NavigationTimeout); err != nil {
		return nil, navigationFailed(op, addURL, err)
	}

	// With a single creatable type the site redirects straight to its form.
	if match := nodeAddHref.FindStringSubmatch(page.URL()); match != nil {
		return &ContentTypes{
			ContentTypes: []ContentType{{Name: match[1], MachineName: match[1]}},
			Source:       SourceNodeAdd,
		}, nil
	}

	doc, err := snapshot(op, page)
	if err != nil {
		return nil, err
	}
	types := parseNodeAddLinks(doc)
	if len(types) == 0 {
		return nil, &Error{
			Kind:       KindExtraction,
			Op:         op,
			Message:    "no content types found on the structure or node creation pages",
			Suggestion: "Check that the saved session has permission to create content",
		}
	}
	return &ContentTypes{ContentTypes: types, Source: SourceNodeAdd}, nil
}

// parseAdminContentTypes reads the content type table. The machine name comes
// from the row's manage link, never from the label.
func parseAdminContentTypes(doc *html.Node) []ContentType {
	table := findFirst(doc, byTag("table"))
	if table == nil {
		return nil
	}

	var out []ContentType
	for _, row := range tableRows(table) {
		var machine string
		for _, a := range links(row) {
			if match := manageTypeHref.FindStringSubmatch(attr(a, "href")); match != nil {
				machine = match[1]
				break
			}
		}
		if machine == "" {
			continue
		}

		cells := children(row, "td")
		ct := ContentType{MachineName: machine}
		if len(cells) > 0 {
			ct.Name = labelText(cells[0])
		}
		if len(cells) > 2 {
			ct.Description = textOf(cells[1])
		}
		if ct.Name == "" {
			ct.Name = machine
		}
		out = append(out, ct)
	}
	return out
}

// labelText strips the "Machine name: x" suffix some themes add to the label cell.
func labelText(cell *html.Node) string {
	if label := findFirst(cell, byClass("menu-label")); label != nil {
		return textOf(label)
	}
	text := textOf(cell)
	if i := strings.Index(text, "(Machine name:"); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	if i := strings.Index(text, "Machine name:"); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	return text
}

// parseNodeAddLinks collects /node/add/{type} links, first occurrence wins.
func parseNodeAddLinks(doc *html.Node) []ContentType {
	seen := map[string]bool{}
	var out []ContentType
	for _, a := range links(doc) {
		match := nodeAddHref.FindStringSubmatch(attr(a, "href"))
		if match == nil || seen[match[1]] {
			continue
		}
		seen[match[1]] = true

		ct := ContentType{MachineName: match[1]}
		if label := findFirst(a, byClass("label")); label != nil {
			ct.Name = textOf(label)
		} else {
			ct.Name = textOf(a)
		}
		if desc := findFirst(a, byClass("description")); desc != nil {
			ct.Description = textOf(desc)
			if i := strings.Index(ct.Name, ct.Description); i > 0 {
				ct.Name = strings.TrimSpace(ct.Name[:i])
			}
		} else if dd := nextDefinition(a); dd != nil {
			ct.Description = textOf(dd)
		}
		if ct.Name == "" {
			ct.Name = ct.MachineName
		}
		out = append(out, ct)
	}
	return out
}

// nextDefinition returns the <dd> following the <dt> that contains a.
func nextDefinition(a *html.Node) *html.Node {
	dt := a.Parent
	for dt != nil && dt.Data != "dt" {
		dt = dt.Parent
	}
	if dt == nil {
		return nil
	}
	for sib := dt.NextSibling; sib != nil; sib = sib.NextSibling {
		if sib.Type != html.ElementNode {
			continue
		}
		if sib.Data == "dd" {
			return sib
		}
		return nil
	}
	return nil
}

// tableRows returns the body rows of table.
func tableRows(table *html.Node) []*html.Node {
	if tbody := findFirst(table, byTag("tbody")); tbody != nil {
		return children(tbody, "tr")
	}
	rows := findAll(table, byTag("tr"))
	out := rows[:0]
	for _, r := range rows {
		if len(children(r, "td")) > 0 {
			out = append(out, r)
		}
	}
	return out
}
