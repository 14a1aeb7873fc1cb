package browser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/pubino/bsp/pkg/form"
)

// UnknownContentType is reported when the type of an edited node cannot be
// detected. Field resolution then runs without a schema.
const UnknownContentType = "unknown"

// SubmitSelectors locate the form's save control, in order.
var SubmitSelectors = []string{
	"#edit-submit",
	`input[type="submit"][value*="save" i]`,
	`input[type="submit"][value*="create" i]`,
	`button[type="submit"]:has-text("Save")`,
	`button[type="submit"]:has-text("Create")`,
}

var (
	nodePath     = regexp.MustCompile(`/node/(\d+)(?:[/?#]|$)`)
	nodeFormID   = regexp.MustCompile(`^node-([a-z0-9-]+?)-(?:edit-)?form$`)
	bodyTypeHint = regexp.MustCompile(`^page-node-type-([a-z0-9-]+)$`)
)

// CreateResult is the outcome of CreateContent.
type CreateResult struct {
	NodeID        *int                `json:"nodeId"`
	ContentType   string              `json:"contentType"`
	Message       string              `json:"message"`
	FilledFields  []form.FieldValue   `json:"filledFields"`
	SkippedFields []form.SkippedField `json:"skippedFields"`
	URL           string              `json:"url"`
}

// UpdateResult is the outcome of UpdateContent.
type UpdateResult struct {
	NodeID        int                 `json:"nodeId"`
	ContentType   string              `json:"contentType"`
	Message       string              `json:"message"`
	UpdatedFields []form.FieldValue   `json:"updatedFields"`
	SkippedFields []form.SkippedField `json:"skippedFields"`
	RedirectURL   string              `json:"redirectUrl"`
}

// CreateContent fills and submits the creation form of contentType. Fields
// the form does not expose are reported as skipped.
func (m *Manager) CreateContent(contentType string, fields map[string]any) (*CreateResult, error) {
	var res *CreateResult
	err := m.run("createContent", func() error {
		const op = "createContent"

		page, err := m.requirePage(op)
		if err != nil {
			return err
		}
		if m.cfg.BaseURL == "" {
			return noBaseURL(op)
		}
		contentType = strings.TrimSpace(contentType)
		if contentType == "" {
			return invalid(op, "contentType is required")
		}
		if len(fields) == 0 {
			return invalid(op, "fields must contain at least one field")
		}

		types, err := m.queryContentTypes(page)
		if err != nil {
			return err
		}
		if !types.Has(contentType) {
			return &Error{
				Kind: KindValidation,
				Op:   op,
				Message: fmt.Sprintf("unknown content type %q; available types: %s",
					contentType, strings.Join(types.MachineNames(), ", ")),
				Suggestion: "Use a machine name from GET /content-types",
			}
		}

		addURL, _ := m.siteURL(op, "/node/add/"+contentType)
		if err := page.Goto(addURL, m.cfg.NavigationTimeout); err != nil {
			return navigationFailed(op, addURL, err)
		}
		if err := page.WaitForSelector("form", formTimeout); err != nil {
			return &Error{Kind: KindElement, Op: op, Message: "creation form did not appear on " + page.URL(), Err: err}
		}

		s := m.schemas.Load(contentType)
		if missing := s.MissingRequired(fields); len(missing) > 0 {
			return &Error{
				Kind:    KindValidation,
				Op:      op,
				Message: "missing required fields: " + strings.Join(missing, ", "),
			}
		}

		report := m.resolver.ApplyAll(page, fields, s)
		if err := submit(page); err != nil {
			return &Error{Kind: KindElement, Op: op, Message: "failed to submit creation form", Err: err}
		}
		if err := page.WaitForNetworkIdle(settleTimeout); err != nil {
			m.logger.Debugf("network did not settle after create: %v", err)
		}

		nodeID := nodeIDFromURL(page.URL())
		if nodeID == nil {
			doc, err := snapshot(op, page)
			if err != nil {
				return err
			}
			nodeID = nodeIDFromEditLink(doc)
			if nodeID == nil {
				if errs := pageErrors(doc); errs != "" {
					return &Error{
						Kind:    KindNavigation,
						Op:      op,
						Message: "content submitted but no node id could be determined from " + page.URL() + ": " + errs,
					}
				}
				// Accepted without a discoverable id.
				m.logger.Warnf("created %s but no node id found on %s", contentType, page.URL())
			}
		}

		msg := "Created " + contentType
		if nodeID != nil {
			msg = fmt.Sprintf("Created %s %d", contentType, *nodeID)
		}
		m.logger.Infof("%s (%d fields set, %d skipped)", msg, len(report.Updated), len(report.Skipped))
		res = &CreateResult{
			NodeID:        nodeID,
			ContentType:   contentType,
			Message:       msg,
			FilledFields:  report.Updated,
			SkippedFields: report.Skipped,
			URL:           page.URL(),
		}
		return nil
	})
	return res, err
}

// UpdateContent fills and submits the edit form of nodeID. The call
// succeeds once the form is submitted, even when every field was skipped.
func (m *Manager) UpdateContent(nodeID int, updates map[string]any) (*UpdateResult, error) {
	var res *UpdateResult
	err := m.run("updateContent", func() error {
		const op = "updateContent"

		page, err := m.requirePage(op)
		if err != nil {
			return err
		}
		if m.cfg.BaseURL == "" {
			return noBaseURL(op)
		}
		if nodeID <= 0 {
			return invalid(op, "node id must be a positive integer, got %d", nodeID)
		}
		if len(updates) == 0 {
			return invalid(op, "updates must contain at least one field")
		}

		editURL, _ := m.siteURL(op, fmt.Sprintf("/node/%d/edit", nodeID))
		if err := page.Goto(editURL, m.cfg.NavigationTimeout); err != nil {
			return navigationFailed(op, editURL, err)
		}
		if err := page.WaitForSelector("form", formTimeout); err != nil {
			return &Error{Kind: KindElement, Op: op, Message: "edit form did not appear on " + page.URL(), Err: err}
		}
		if !isEditURL(page.URL(), nodeID) {
			return &Error{
				Kind:       KindNavigation,
				Op:         op,
				Message:    fmt.Sprintf("could not reach the edit form for node %d (ended on %s)", nodeID, page.URL()),
				Suggestion: "Check the node id and that the session is still authenticated (GET /login/status)",
			}
		}

		contentType := UnknownContentType
		if doc, err := snapshot(op, page); err == nil {
			contentType = detectContentType(doc)
		} else {
			m.logger.Debugf("content type detection failed for node %d: %v", nodeID, err)
		}
		s := m.schemas.Load(contentType)

		report := m.resolver.ApplyAll(page, updates, s)
		if err := submit(page); err != nil {
			return &Error{Kind: KindElement, Op: op, Message: "failed to submit edit form", Err: err}
		}
		if err := page.WaitForNetworkIdle(settleTimeout); err != nil {
			m.logger.Debugf("network did not settle after update of node %d: %v", nodeID, err)
		}

		m.logger.Infof("updated node %d (%s): %d fields set, %d skipped", nodeID, contentType, len(report.Updated), len(report.Skipped))
		res = &UpdateResult{
			NodeID:        nodeID,
			ContentType:   contentType,
			Message:       fmt.Sprintf("Updated node %d: %d field(s) applied, %d skipped", nodeID, len(report.Updated), len(report.Skipped)),
			UpdatedFields: report.Updated,
			SkippedFields: report.Skipped,
			RedirectURL:   page.URL(),
		}
		return nil
	})
	return res, err
}

// submit clicks the first conventional save control.
func submit(page Page) error {
	for _, sel := range SubmitSelectors {
		n, err := page.Count(sel)
		if err != nil || n == 0 {
			continue
		}
		return page.Click(sel)
	}
	return errors.New("no save or create button found")
}

func nodeIDFromURL(u string) *int {
	if strings.Contains(u, "/node/add") {
		return nil
	}
	match := nodePath.FindStringSubmatch(urlPath(u))
	if match == nil {
		return nil
	}
	id, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}
	return &id
}

func nodeIDFromEditLink(doc *html.Node) *int {
	for _, a := range links(doc) {
		if match := editHref.FindStringSubmatch(attr(a, "href")); match != nil {
			if id, err := strconv.Atoi(match[1]); err == nil {
				return &id
			}
		}
	}
	return nil
}

// detectContentType reads the node form's id or data-drupal-selector,
// e.g. node-landing-page-edit-form, then the body's page-node-type class.
func detectContentType(doc *html.Node) string {
	for _, f := range findAll(doc, byTag("form")) {
		for _, key := range []string{"data-drupal-selector", "id"} {
			if match := nodeFormID.FindStringSubmatch(attr(f, key)); match != nil {
				return strings.ReplaceAll(match[1], "-", "_")
			}
		}
		for _, c := range strings.Fields(attr(f, "class")) {
			if match := nodeFormID.FindStringSubmatch(c); match != nil {
				return strings.ReplaceAll(match[1], "-", "_")
			}
		}
	}
	if body := findFirst(doc, byTag("body")); body != nil {
		for _, c := range strings.Fields(attr(body, "class")) {
			if match := bodyTypeHint.FindStringSubmatch(c); match != nil {
				return strings.ReplaceAll(match[1], "-", "_")
			}
		}
	}
	return UnknownContentType
}

// pageErrors returns the text of status error messages on the page.
func pageErrors(doc *html.Node) string {
	var out []string
	for _, n := range findAll(doc, func(n *html.Node) bool {
		return hasClass(n, "messages--error") || (hasClass(n, "messages") && hasClass(n, "error"))
	}) {
		if t := textOf(n); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, "; ")
}
