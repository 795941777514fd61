package workflow

import (
	"encoding/json"
	"fmt"
)

// jsString quotes s as a JavaScript string literal
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func presentPredicate(selector string) string {
	return fmt.Sprintf("document.querySelector(%s) !== null", jsString(selector))
}

func visiblePredicate(selector string) string {
	return fmt.Sprintf(`(function () {
	var el = document.querySelector(%s);
	if (!el) { return false; }
	var style = window.getComputedStyle(el);
	if (style.display === "none" || style.visibility === "hidden") { return false; }
	return el.offsetWidth > 0 || el.offsetHeight > 0 || el.getClientRects().length > 0;
})()`, jsString(selector))
}

func clickScript(selector string) string {
	return fmt.Sprintf(`var el = document.querySelector(%[1]s);
if (!el) { throw new Error("element not found: " + %[1]s); }
el.click();`, jsString(selector))
}

func clickNthScript(selector string, index int) string {
	return fmt.Sprintf(`var els = document.querySelectorAll(%[1]s);
if (els.length <= %[2]d) { throw new Error("element not found: " + %[1]s + "[%[2]d]"); }
els[%[2]d].click();`, jsString(selector), index)
}

func fillScript(selector, value string) string {
	return fmt.Sprintf(`var el = document.querySelector(%[1]s);
if (!el) { throw new Error("element not found: " + %[1]s); }
el.focus();
el.value = %[2]s;
el.dispatchEvent(new Event("input", { bubbles: true }));
el.dispatchEvent(new Event("change", { bubbles: true }));`, jsString(selector), jsString(value))
}
