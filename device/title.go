package device

import (
	"fmt"
	"strings"
)

// Title formats the device as a unique connection title. Everything after
// "##" is an identifier that is not displayed; it keeps titles for the same
// visible name but different addresses distinct. extraInfo, when set, is
// prepended in parentheses so it stays visible.
func (d Device) Title(extraInfo string) string {
	var title string
	if d.Type.IsIP() {
		title = fmt.Sprintf("%s Connection - %s port %d##%s", d.Type, d.Address, d.Port, d.Address)
	} else {
		// Names may contain newlines; a title holds one line.
		name := strings.ReplaceAll(d.Name, "\n", " ")
		if name == "" {
			name = d.Address
		}
		title = fmt.Sprintf("%s Connection - %s##%s port %d", d.Type, name, d.Address, d.Port)
	}

	if extraInfo == "" {
		return title
	}
	return fmt.Sprintf("(%s) %s", extraInfo, title)
}

// DisplayTitle returns the visible part of a title.
func DisplayTitle(title string) string {
	if i := strings.Index(title, "##"); i >= 0 {
		return title[:i]
	}
	return title
}
