package browser

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Interfaces a detail can be read from.
const (
	InterfaceEdit = "edit"
	InterfaceView = "view"
)

// ContentDetail is a best-effort projection of one node.
type ContentDetail struct {
	NodeID    int            `json:"nodeId"`
	Title     string         `json:"title"`
	URL       string         `json:"url"`
	Interface string         `json:"interface"`
	Body      string         `json:"body,omitempty"`
	Data      map[string]any `json:"data"`
	Metadata  DetailMetadata `json:"metadata"`
	// Error is set when extraction failed and only a partial result is
	// available.
	Error string `json:"error,omitempty"`
}

// DetailMetadata records where and when a detail was extracted.
type DetailMetadata struct {
	NodeID      int       `json:"nodeId"`
	Source      string    `json:"source"`
	ExtractedAt time.Time `json:"extractedAt"`
}

// form controls that carry framework state rather than content.
var internalControls = map[string]bool{
	"form_build_id": true,
	"form_token":    true,
	"form_id":       true,
	"op":            true,
	"changed":       true,
}

// GetContentDetail reads node nodeID, preferring its edit form and falling
// back to its public view.
func (m *Manager) GetContentDetail(nodeID int) (*ContentDetail, error) {
	var res *ContentDetail
	err := m.run("getContentDetail", func() error {
		const op = "getContentDetail"
		if nodeID <= 0 {
			return invalid(op, "node id must be a positive integer, got %d", nodeID)
		}
		page, err := m.requirePage(op)
		if err != nil {
			return err
		}

		editURL, err := m.siteURL(op, fmt.Sprintf("/node/%d/edit", nodeID))
		if err != nil {
			return err
		}
		viewURL, _ := m.siteURL(op, fmt.Sprintf("/node/%d", nodeID))

		iface := ""
		if err := page.Goto(editURL, m.cfg.NavigationTimeout); err == nil && isEditURL(page.URL(), nodeID) {
			iface = InterfaceEdit
		} else {
			if err != nil {
				m.logger.Debugf("edit form for node %d unavailable: %v", nodeID, err)
			}
			if err := page.Goto(viewURL, m.cfg.NavigationTimeout); err == nil && isViewURL(page.URL(), nodeID) {
				iface = InterfaceView
			}
		}
		if iface == "" {
			return &Error{
				Kind:       KindNavigation,
				Op:         op,
				Message:    fmt.Sprintf("could not open node %d: neither %s nor %s was reachable (ended on %s)", nodeID, editURL, viewURL, page.URL()),
				Suggestion: "Check the node id and that the session is still authenticated (GET /login/status)",
			}
		}

		res = extractDetail(page, nodeID, iface)
		if res.Error != "" {
			m.logger.Warnf("partial detail for node %d: %s", nodeID, res.Error)
		}
		return nil
	})
	return res, err
}

func isEditURL(u string, nodeID int) bool {
	return strings.HasSuffix(strings.TrimRight(urlPath(u), "/"), fmt.Sprintf("/node/%d/edit", nodeID))
}

func isViewURL(u string, nodeID int) bool {
	return strings.HasSuffix(strings.TrimRight(urlPath(u), "/"), fmt.Sprintf("/node/%d", nodeID))
}

// urlPath returns the path component of u, ignoring query and fragment.
func urlPath(u string) string {
	if parsed, err := url.Parse(u); err == nil {
		return parsed.Path
	}
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}

// extractDetail never fails: extraction problems yield a partial result.
func extractDetail(page Page, nodeID int, iface string) *ContentDetail {
	d := &ContentDetail{
		NodeID:    nodeID,
		URL:       page.URL(),
		Interface: iface,
		Data:      map[string]any{},
		Metadata: DetailMetadata{
			NodeID:      nodeID,
			Source:      iface,
			ExtractedAt: time.Now().UTC(),
		},
	}
	if title, err := page.Title(); err == nil {
		d.Title = title
	}

	doc, err := snapshot("getContentDetail", page)
	if err != nil {
		d.Error = err.Error()
		return d
	}

	if iface == InterfaceEdit {
		extractEditForm(doc, d)
	} else {
		extractView(doc, d)
	}
	return d
}

func extractEditForm(doc *html.Node, d *ContentDetail) {
	root := findFirst(doc, func(n *html.Node) bool {
		return n.Data == "form" && strings.HasPrefix(attr(n, "id"), "node-")
	})
	if root == nil {
		root = doc
	}

	for _, el := range findAll(root, func(n *html.Node) bool {
		return (n.Data == "input" || n.Data == "textarea" || n.Data == "select") && attr(n, "name") != ""
	}) {
		name := attr(el, "name")
		if internalControls[name] {
			continue
		}
		switch el.Data {
		case "textarea":
			d.Data[name] = rawText(el)
		case "select":
			d.Data[name] = selectedOption(el)
		default:
			switch strings.ToLower(attr(el, "type")) {
			case "hidden", "submit", "button", "password", "file", "image", "reset":
				continue
			case "checkbox":
				d.Data[name] = hasAttr(el, "checked")
			case "radio":
				if hasAttr(el, "checked") {
					d.Data[name] = attr(el, "value")
				}
			default:
				d.Data[name] = attr(el, "value")
			}
		}
	}

	if v, ok := d.Data["title[0][value]"].(string); ok && v != "" {
		d.Title = v
	}
	if v, ok := d.Data["body[0][value]"].(string); ok {
		d.Body = v
	}
}

func selectedOption(sel *html.Node) string {
	options := findAll(sel, byTag("option"))
	for _, o := range options {
		if hasAttr(o, "selected") {
			return optionValue(o)
		}
	}
	if len(options) > 0 && !hasAttr(sel, "multiple") {
		return optionValue(options[0])
	}
	return ""
}

func optionValue(o *html.Node) string {
	if hasAttr(o, "value") {
		return attr(o, "value")
	}
	return textOf(o)
}

// extractView reads labelled field blocks (.field with .field__label and
// .field__item children).
func extractView(doc *html.Node, d *ContentDetail) {
	if h1 := findFirst(doc, byTag("h1")); h1 != nil {
		if t := textOf(h1); t != "" {
			d.Title = t
		}
	}
	if body := findFirst(doc, byClass("field--name-body")); body != nil {
		d.Body = textOf(body)
	}

	for _, field := range findAll(doc, byClass("field")) {
		label := textOf(findFirst(field, byClass("field__label")))
		if label == "" {
			label = fieldNameFromClass(field)
		}
		if label == "" {
			continue
		}

		var values []string
		for _, item := range findAll(field, byClass("field__item")) {
			if v := textOf(item); v != "" {
				values = append(values, v)
			}
		}
		switch len(values) {
		case 0:
			continue
		case 1:
			d.Data[label] = values[0]
		default:
			d.Data[label] = values
		}
	}
}

func fieldNameFromClass(n *html.Node) string {
	for _, c := range strings.Fields(attr(n, "class")) {
		if strings.HasPrefix(c, "field--name-") {
			return strings.ReplaceAll(strings.TrimPrefix(c, "field--name-"), "-", "_")
		}
	}
	return ""
}
