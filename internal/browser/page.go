package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Page is the subset of browser automation the session drivers need.
// Selectors are CSS selectors evaluated with querySelector semantics, so
// comma-separated alternatives are allowed.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Exists(ctx context.Context, sel string) bool
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	Click(ctx context.Context, sel string) error
	Enabled(ctx context.Context, sel string) bool
	// InsertText focuses sel and inserts text without key events, so embedded
	// newlines do not trigger a submit.
	InsertText(ctx context.Context, sel, text string) error
	PressKey(ctx context.Context, key string) error
	// Count returns how many elements match sel.
	Count(ctx context.Context, sel string) int
	// LastText returns the trimmed text of the last element matching sel. When
	// inner is set and found inside that element, its text is used instead.
	LastText(ctx context.Context, sel, inner string) string
	// ClickByText clicks the first element matching sel whose text contains
	// fragment (case-insensitive). It reports whether anything was clicked.
	ClickByText(ctx context.Context, sel, fragment string) (bool, error)
	SetFiles(ctx context.Context, sel string, paths []string) error
	Close() error
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func existsScript(sel string) string {
	return fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(sel))
}

func countScript(sel string) string {
	return fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(sel))
}

func enabledScript(sel string) string {
	return fmt.Sprintf(`(function() {
	var el = document.querySelector(%s);
	if (!el) return false;
	return !el.disabled && el.getAttribute('aria-disabled') !== 'true';
})()`, jsString(sel))
}

func lastTextScript(sel, inner string) string {
	return fmt.Sprintf(`(function() {
	var els = document.querySelectorAll(%s);
	if (els.length === 0) return '';
	var target = els[els.length - 1];
	var inner = %s;
	if (inner) {
		var found = target.querySelector(inner);
		if (found) target = found;
	}
	return (target.innerText || target.textContent || '').trim();
})()`, jsString(sel), jsString(inner))
}

func clickByTextScript(sel, fragment string) string {
	return fmt.Sprintf(`(function() {
	var want = %s.toLowerCase();
	var els = document.querySelectorAll(%s);
	for (var i = 0; i < els.length; i++) {
		var text = (els[i].innerText || els[i].textContent || '').toLowerCase();
		if (text.indexOf(want) !== -1) {
			els[i].click();
			return true;
		}
	}
	return false;
})()`, jsString(fragment), jsString(sel))
}
