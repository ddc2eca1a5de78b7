// Package extract locates the payable amount inside vendor portal HTML.
//
// The portals render bills as nested layout tables with no stable ids, so
// extraction works through an ordered list of pattern candidates: the first
// candidate that yields a non-empty match wins. Matched text is cleaned and
// parsed as a float; a match that parses to nothing is amount 0, which is a
// valid "zero bill" outcome and must not be confused with a failed match.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Electric portal pattern candidates, tried in order.
var (
	// "CURRENT BILL" caption cell followed by the value cell.
	currentBillPattern = regexp.MustCompile(`(?i)<b>\s*CURRENT\s*BILL\s*</b>\s*</td>\s*<td[^>]*>\s*([^<]+)`)

	// Value cell tagged with the portal's content class.
	contentClassPattern = regexp.MustCompile(`(?i)class="nestedtd2width\s+content"[^>]*>([^<]+)`)

	// "PAYABLE WITHIN DUE DATE" caption followed by any content-class cell.
	payablePattern = regexp.MustCompile(`(?i)PAYABLE\s*WITHIN\s*DUE\s*DATE[\s\S]*?<td[^>]*class="[^"]*content[^"]*"[^>]*>([\s\S]*?)</td>`)

	// Fallback: the section right after the caption, searched for a
	// currency-shaped number between tags.
	billSectionPattern = regexp.MustCompile(`(?i)CURRENT\s*BILL[\s\S]{0,200}`)
	sectionAmount      = regexp.MustCompile(`>\s*(\d{1,3}(?:,\d{3})*(?:\.\d{2})?)\s*<`)

	currencyNumber = regexp.MustCompile(`[\d,]+\.?\d*`)
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
)

// Electric extracts the payable amount from an electric portal bill page.
// ok reports whether any pattern candidate matched; amount 0 with ok true
// is a genuine zero bill.
func Electric(body string) (amount float64, raw string, ok bool) {
	if m := currentBillPattern.FindStringSubmatch(body); m != nil {
		raw = strings.TrimSpace(m[1])
	}

	if raw == "" {
		if m := contentClassPattern.FindStringSubmatch(body); m != nil {
			raw = strings.TrimSpace(m[1])
		}
	}

	if raw == "" {
		if m := payablePattern.FindStringSubmatch(body); m != nil {
			cell := strings.TrimSpace(tagPattern.ReplaceAllString(m[1], ""))
			raw = currencyNumber.FindString(cell)
		}
	}

	if raw == "" {
		if section := billSectionPattern.FindString(body); section != "" {
			if m := sectionAmount.FindStringSubmatch(section); m != nil {
				raw = m[1]
			}
		}
	}

	if raw == "" {
		return 0, "", false
	}
	return ParseAmount(raw), raw, true
}

// Gas extracts the payable amount from a gas portal bill page. The portal
// lays the bill out as a table where the amount sits two rows below the row
// carrying the consumer number. ok is false when that row structure is not
// present in the body.
func Gas(body, consumerNo string) (amount float64, raw string, ok bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return 0, "", false
	}

	rows := doc.Find("tr")
	target := -1
	rows.EachWithBreak(func(i int, row *goquery.Selection) bool {
		if strings.Contains(row.Text(), consumerNo) {
			target = i
			return false
		}
		return true
	})

	if target < 0 || target+2 >= rows.Length() {
		return 0, "", false
	}

	cell := rows.Eq(target + 2).Find("td").First()
	if cell.Length() == 0 {
		return 0, "", false
	}

	raw = strings.TrimSpace(strings.ReplaceAll(cell.Text(), "\u00a0", " "))
	if raw == "" {
		return 0, "", false
	}
	return ParseAmount(raw), raw, true
}

// ParseAmount cleans matched text and parses it as a non-negative amount.
// The first currency-shaped token is isolated, thousands separators are
// stripped, and everything except digits and the first decimal point is
// dropped. Unparseable text is amount 0.
func ParseAmount(raw string) float64 {
	token := currencyNumber.FindString(raw)
	if token == "" {
		return 0
	}

	var b strings.Builder
	sawPoint := false
	for _, r := range token {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' && !sawPoint:
			b.WriteRune(r)
			sawPoint = true
		}
	}

	amount, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || amount < 0 {
		return 0
	}
	return amount
}
