package tracker

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// invisible characters NexusPHP sprinkles into rendered numbers
var invisible = strings.NewReplacer("\u00ad", "", "\u00a0", "")

// rows maps the label cell of every two-cell table row to its value cell.
type rows struct {
	keys   []string
	values map[string]*html.Node
}

// parseRows finds the td.outer content cell and collects its label/value
// rows, descending into nested tables. The first row with a label wins.
func parseRows(body []byte) (*rows, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	outer := find(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Td && hasClass(n, "outer")
	})
	if outer == nil {
		return nil, ErrUnexpectedPage
	}

	r := &rows{values: make(map[string]*html.Node)}
	walk(outer, func(n *html.Node) {
		if n.DataAtom != atom.Tr {
			return
		}
		var cells []*html.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
				cells = append(cells, c)
			}
		}
		if len(cells) != 2 {
			return
		}
		key := strings.TrimSpace(text(cells[0]))
		if key == "" {
			return
		}
		if _, seen := r.values[key]; !seen {
			r.keys = append(r.keys, key)
			r.values[key] = cells[1]
		}
	})
	return r, nil
}

// cell returns the value cell whose label starts with prefix.
func (r *rows) cell(prefix string) *html.Node {
	for _, k := range r.keys {
		if strings.HasPrefix(k, prefix) {
			return r.values[k]
		}
	}
	return nil
}

// text returns the visible text of the value cell labelled prefix.
func (r *rows) text(prefix string) string {
	n := r.cell(prefix)
	if n == nil {
		return ""
	}
	return text(n)
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	walk(n, func(c *html.Node) {
		if match(c) {
			out = append(out, c)
		}
	})
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

// text concatenates the text nodes under n with invisible characters removed.
func text(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return invisible.Replace(b.String())
}

// match returns the first capture group of re in s, trimmed, or "".
func match(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

var numberRe = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)`)

// number extracts the first decimal number in s.
func number(s string) (float64, bool) {
	m := numberRe.FindString(strings.ReplaceAll(s, ",", ""))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	return f, err == nil
}
