package extract

import "testing"

const electricBillPage = `
<html><body>
<table>
<tr><td><b>REFERENCE NO</b></td><td class="content">12345678901234</td></tr>
<tr><td><b>CURRENT BILL</b></td>
<td class="nestedtd2width content"> 12,345.00 </td></tr>
</table>
</body></html>`

func TestElectric_CurrentBillLabel(t *testing.T) {
	amount, raw, ok := Electric(electricBillPage)
	if !ok {
		t.Fatal("expected a pattern match")
	}
	if amount != 12345.0 {
		t.Errorf("amount = %v, want 12345.0", amount)
	}
	if raw != "12,345.00" {
		t.Errorf("raw = %q, want %q", raw, "12,345.00")
	}
}

func TestElectric_Idempotent(t *testing.T) {
	first, _, _ := Electric(electricBillPage)
	second, _, _ := Electric(electricBillPage)
	if first != second {
		t.Errorf("extraction not idempotent: %v != %v", first, second)
	}
}

func TestElectric_ContentClassFallback(t *testing.T) {
	body := `<table><tr>
<td class="nestedtd2width content">4,200.50</td>
</tr></table>`

	amount, _, ok := Electric(body)
	if !ok {
		t.Fatal("expected content class pattern to match")
	}
	if amount != 4200.5 {
		t.Errorf("amount = %v, want 4200.5", amount)
	}
}

func TestElectric_PayableCaption(t *testing.T) {
	body := `<table>
<tr><td>PAYABLE WITHIN DUE DATE</td></tr>
<tr><td class="border-b content"><span>7,890</span></td></tr>
</table>`

	amount, _, ok := Electric(body)
	if !ok {
		t.Fatal("expected payable pattern to match")
	}
	if amount != 7890 {
		t.Errorf("amount = %v, want 7890", amount)
	}
}

func TestElectric_SectionFallback(t *testing.T) {
	body := `<div>CURRENT BILL</div><span> 1,234.00 </span>`

	amount, _, ok := Electric(body)
	if !ok {
		t.Fatal("expected section fallback to match")
	}
	if amount != 1234.0 {
		t.Errorf("amount = %v, want 1234.0", amount)
	}
}

func TestElectric_NoMatch(t *testing.T) {
	_, _, ok := Electric(`<html><body>No bill here</body></html>`)
	if ok {
		t.Error("expected no match on unrelated body")
	}
}

func TestElectric_ZeroIsMatch(t *testing.T) {
	body := `<table><tr><td><b>CURRENT BILL</b></td><td>0.00</td></tr></table>`

	amount, _, ok := Electric(body)
	if !ok {
		t.Fatal("a matched zero amount is still a match")
	}
	if amount != 0 {
		t.Errorf("amount = %v, want 0", amount)
	}
}

const gasBillPage = `
<html><body><table>
<tr><td>Consumer</td><td>12345678901</td></tr>
<tr><td>Name</td><td>SOMEONE</td></tr>
<tr><td>9,876.00</td><td>due date</td></tr>
</table></body></html>`

func TestGas_RowWalk(t *testing.T) {
	amount, raw, ok := Gas(gasBillPage, "12345678901")
	if !ok {
		t.Fatal("expected consumer row to be found")
	}
	if amount != 9876.0 {
		t.Errorf("amount = %v, want 9876.0", amount)
	}
	if raw != "9,876.00" {
		t.Errorf("raw = %q, want %q", raw, "9,876.00")
	}
}

func TestGas_ConsumerNotInBody(t *testing.T) {
	_, _, ok := Gas(gasBillPage, "99999999999")
	if ok {
		t.Error("expected no match for absent consumer number")
	}
}

func TestGas_MissingAmountRow(t *testing.T) {
	body := `<table><tr><td>12345678901</td></tr></table>`
	_, _, ok := Gas(body, "12345678901")
	if ok {
		t.Error("expected no match when amount row is missing")
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"12,345.00", 12345.0},
		{"Rs. 1,200", 1200},
		{"0.00", 0},
		{"", 0},
		{"n/a", 0},
		{"42", 42},
		{"1.2.3", 1.2}, // first currency token wins
	}

	for _, tt := range tests {
		if got := ParseAmount(tt.in); got != tt.want {
			t.Errorf("ParseAmount(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
