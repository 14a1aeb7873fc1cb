package browser

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

const pathContentList = "/admin/content"

// Listing limits.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

var (
	editHref      = regexp.MustCompile(`/node/(\d+)/edit`)
	pageParam     = regexp.MustCompile(`[?&]page=(\d+)`)
	ofItems       = regexp.MustCompile(`(?i)\bof\s+([\d,]+)\s+(?:items|results|entries)`)
	displayRange  = regexp.MustCompile(`(?i)(\d[\d,]*)\s*(?:-|–|to)\s*(\d[\d,]*)\s+of\s+([\d,]+)`)
	byAuthor      = regexp.MustCompile(`(?is)^(.*?)\s+by\s+(.+)$`)
	lastPageLabel = regexp.MustCompile(`(?i)^(?:last|»|last page)`)
)

// ContentItem is one row of the content listing.
type ContentItem struct {
	ID        *int   `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url,omitempty"`
	Path      string `json:"path,omitempty"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Author    string `json:"author,omitempty"`
	Updated   string `json:"updated,omitempty"`
	UpdatedBy string `json:"updatedBy,omitempty"`
	Created   string `json:"created,omitempty"`
	CreatedBy string `json:"createdBy,omitempty"`
	EditURL   string `json:"editUrl,omitempty"`
}

// Pagination describes the listing page that was scraped. It always
// reflects the unfiltered source page.
type Pagination struct {
	CurrentPage  int    `json:"currentPage"`
	HasNextPage  bool   `json:"hasNextPage"`
	HasPrevPage  bool   `json:"hasPrevPage"`
	TotalPages   int    `json:"totalPages"`
	TotalItems   *int   `json:"totalItems"`
	CurrentRange string `json:"currentRange,omitempty"`
}

// QueryOptions selects a page of the content listing. Page is one-based.
type QueryOptions struct {
	Limit int
	Page  int
	Type  string
}

func (o QueryOptions) normalized() QueryOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Page < 1 {
		o.Page = 1
	}
	o.Type = strings.TrimSpace(o.Type)
	return o
}

// ContentList is the result of QueryContent.
type ContentList struct {
	Content    []ContentItem `json:"content"`
	Count      int           `json:"count"`
	Pagination Pagination    `json:"pagination"`
	Filter     string        `json:"filter,omitempty"`
}

// QueryContent scrapes up to opts.Limit rows from one page of the admin
// content listing. The type filter is applied to the scraped rows, so a
// filtered result may hold fewer than Limit items even when later pages
// contain matches.
func (m *Manager) QueryContent(opts QueryOptions) (*ContentList, error) {
	var res *ContentList
	err := m.run("queryContent", func() error {
		const op = "queryContent"
		opts = opts.normalized()

		page, err := m.requirePage(op)
		if err != nil {
			return err
		}
		target, err := m.siteURL(op, fmt.Sprintf("%s?page=%d", pathContentList, opts.Page-1))
		if err != nil {
			return err
		}
		if err := page.Goto(target, m.cfg.NavigationTimeout); err != nil {
			return navigationFailed(op, target, err)
		}

		doc, err := snapshot(op, page)
		if err != nil {
			return err
		}

		items, sourceRows := parseContentRows(doc, opts.Limit)
		if opts.Type != "" {
			filtered := items[:0]
			for _, it := range items {
				if strings.EqualFold(strings.TrimSpace(it.Type), opts.Type) {
					filtered = append(filtered, it)
				}
			}
			items = filtered
		}

		res = &ContentList{
			Content:    items,
			Count:      len(items),
			Pagination: parsePagination(doc, opts.Page, sourceRows),
			Filter:     opts.Type,
		}
		m.logger.Debugf("queried content page %d: %d items (type=%q)", opts.Page, len(items), opts.Type)
		return nil
	})
	return res, err
}

// column positions used when cells carry no views-field class.
var positional = []string{"title", "path", "type", "status", "changed", "created", "operations"}

// parseContentRows reads up to limit rows from the first table. sourceRows is
// the number of data rows on the page before the limit was applied.
func parseContentRows(doc *html.Node, limit int) (items []ContentItem, sourceRows int) {
	items = []ContentItem{}
	table := findFirst(doc, byTag("table"))
	if table == nil {
		return items, 0
	}

	rows := tableRows(table)
	for _, row := range rows {
		cells := children(row, "td")
		if len(cells) == 0 || (len(cells) == 1 && hasClass(cells[0], "views-empty")) {
			continue
		}
		sourceRows++
		if len(items) < limit {
			items = append(items, parseContentRow(row, cells))
		}
	}
	return items, sourceRows
}

func parseContentRow(row *html.Node, cells []*html.Node) ContentItem {
	// A leading bulk-operations checkbox column is not data.
	if len(cells) > 0 && (hasClass(cells[0], "views-field-node-bulk-form") ||
		findFirst(cells[0], func(n *html.Node) bool { return n.Data == "input" && attr(n, "type") == "checkbox" }) != nil) {
		cells = cells[1:]
	}

	byName := map[string]*html.Node{}
	for i, cell := range cells {
		name := ""
		for _, c := range strings.Fields(attr(cell, "class")) {
			if strings.HasPrefix(c, "views-field-") {
				name = strings.TrimPrefix(c, "views-field-")
			}
		}
		if name == "" && i < len(positional) {
			name = positional[i]
		}
		if name != "" {
			byName[name] = cell
		}
	}

	var it ContentItem
	if cell := byName["title"]; cell != nil {
		it.Title = textOf(cell)
		if a := findFirst(cell, byTag("a")); a != nil {
			it.URL = attr(a, "href")
		}
	}
	it.Path = textOf(byName["path"])
	if it.Path == "" {
		it.Path = textOf(byName["path-alias"])
	}
	it.Type = textOf(byName["type"])
	it.Status = textOf(byName["status"])
	it.Author = textOf(byName["name"])
	if it.Author == "" {
		it.Author = textOf(byName["uid"])
	}
	it.Updated, it.UpdatedBy = splitByAuthor(textOf(byName["changed"]))
	it.Created, it.CreatedBy = splitByAuthor(textOf(byName["created"]))
	if it.Author == "" {
		it.Author = it.UpdatedBy
	}

	for _, a := range links(row) {
		href := attr(a, "href")
		if match := editHref.FindStringSubmatch(href); match != nil {
			if id, err := strconv.Atoi(match[1]); err == nil {
				it.ID = &id
				it.EditURL = href
			}
			break
		}
	}
	return it
}

// splitByAuthor splits "<date> by <user>" composites.
func splitByAuthor(s string) (string, string) {
	if match := byAuthor.FindStringSubmatch(s); match != nil {
		return strings.TrimSpace(match[1]), strings.TrimSpace(match[2])
	}
	return s, ""
}

// parsePagination derives pager metadata. Pager links carry zero-based page
// parameters; the result is one-based.
func parsePagination(doc *html.Node, current, sourceRows int) Pagination {
	p := Pagination{CurrentPage: current, HasPrevPage: current > 1}

	pager := findFirst(doc, func(n *html.Node) bool {
		return hasClass(n, "pager") || hasClass(n, "pager__items") || attr(n, "role") == "navigation" && strings.Contains(strings.ToLower(attr(n, "aria-labelledby")), "pagination")
	})

	maxPage := current
	if pager != nil {
		for _, a := range links(pager) {
			href := attr(a, "href")
			li := a.Parent
			rel := strings.ToLower(attr(a, "rel"))
			label := textOf(a)

			switch {
			case rel == "next" || hasClass(li, "pager__item--next") || hasClass(li, "pager-next"):
				p.HasNextPage = true
			case rel == "prev" || hasClass(li, "pager__item--previous") || hasClass(li, "pager-previous"):
				p.HasPrevPage = true
			}

			n, ok := zeroBasedPage(href)
			if !ok {
				continue
			}
			if n+1 > maxPage {
				maxPage = n + 1
			}
			if hasClass(li, "pager__item--last") || hasClass(li, "pager-last") || lastPageLabel.MatchString(label) {
				p.TotalPages = n + 1
			}
		}
	}

	text := textOf(doc)
	if match := displayRange.FindStringSubmatch(text); match != nil {
		p.CurrentRange = atoiDigits(match[1]) + "-" + atoiDigits(match[2])
		if total, err := strconv.Atoi(atoiDigits(match[3])); err == nil {
			p.TotalItems = &total
		}
	} else if match := ofItems.FindStringSubmatch(text); match != nil {
		if total, err := strconv.Atoi(atoiDigits(match[1])); err == nil {
			p.TotalItems = &total
		}
	}

	switch {
	case p.TotalPages > 0:
	case p.TotalItems != nil && sourceRows > 0 && (p.HasNextPage || maxPage > current):
		p.TotalPages = (*p.TotalItems + sourceRows - 1) / sourceRows
	case maxPage > current:
		p.TotalPages = maxPage
	case p.HasNextPage:
		p.TotalPages = current + 1
	default:
		// No pager beyond this page: the current page is the last one.
		p.TotalPages = current
	}
	if p.TotalPages < current {
		p.TotalPages = current
	}
	return p
}

func zeroBasedPage(href string) (int, bool) {
	if href == "" {
		return 0, false
	}
	if u, err := url.Parse(href); err == nil {
		if v := u.Query().Get("page"); v != "" {
			n, err := strconv.Atoi(v)
			return n, err == nil
		}
		return 0, false
	}
	if match := pageParam.FindStringSubmatch(href); match != nil {
		n, err := strconv.Atoi(match[1])
		return n, err == nil
	}
	return 0, false
}

func atoiDigits(s string) string {
	return strings.ReplaceAll(s, ",", "")
}
