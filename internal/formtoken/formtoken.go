// Package formtoken pulls hidden state fields (such as __VIEWSTATE and
// __EVENTVALIDATION) out of server-rendered forms so they can be echoed
// back on the next post.
package formtoken

import (
	"net/url"
	"regexp"
	"sort"

	"fjacquet/bankfetch/internal/htmldoc"
)

// Tokens maps input names to their values. An input without a value
// attribute maps to the empty string. When a name repeats, the last one wins.
type Tokens map[string]string

// Extract collects the inputs whose name is one of names. Names that are
// absent from the page are absent from the result.
func Extract(doc *htmldoc.Document, names ...string) Tokens {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	return collect(doc, func(name string) bool {
		_, ok := want[name]
		return ok
	})
}

// ExtractMatching collects the inputs whose name matches re anywhere.
func ExtractMatching(doc *htmldoc.Document, re *regexp.Regexp) Tokens {
	return collect(doc, re.MatchString)
}

// Missing returns the names that are not present, sorted.
func (t Tokens) Missing(names ...string) []string {
	var missing []string
	for _, n := range names {
		if _, ok := t[n]; !ok {
			missing = append(missing, n)
		}
	}
	sort.Strings(missing)
	return missing
}

// Values returns the tokens as form values.
func (t Tokens) Values() url.Values {
	v := make(url.Values, len(t))
	t.Apply(v)
	return v
}

// Apply sets every token on v, replacing existing values.
func (t Tokens) Apply(v url.Values) {
	for name, value := range t {
		v.Set(name, value)
	}
}

func collect(doc *htmldoc.Document, keep func(string) bool) Tokens {
	out := Tokens{}
	if doc == nil {
		return out
	}
	for _, input := range htmldoc.FindByAttr(doc.Root(), "name", keep) {
		if input.Data != "input" {
			continue
		}
		name, _ := htmldoc.Attr(input, "name")
		value, _ := htmldoc.Attr(input, "value")
		out[name] = value
	}
	return out
}
