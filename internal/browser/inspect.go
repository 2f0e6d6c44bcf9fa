// File: internal/browser/inspect.go
package browser

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Inspect runs the perception script against the active tab and returns the
// raw scan. Deduplication, capping and id assignment happen above this
// layer.
func (s *Session) Inspect(ctx context.Context) (*schemas.PageScan, error) {
	var scan schemas.PageScan
	if err := s.ExecuteScript(ctx, inspectScript, &scan); err != nil {
		return nil, fmt.Errorf("inspection script failed: %w", err)
	}
	return &scan, nil
}

// inspectScript is the single in-page pass that reports every interactive
// candidate plus the page outline and main-content HTML. It never mutates
// the DOM. Selector queries derived here are censused immediately
// (matchCount/matchIndex) so the Go side can pick a descriptor variant
// without a second round trip.
//
// Kept dependency-free and ES5-compatible where cheap; raw caps bound the
// payload, the configured caps are enforced on the Go side.
const inspectScript = `(function () {
	var MAX_NODES = 600;
	var MAX_OPTIONS = 20;
	var MAX_HEADINGS = 40;
	var MAX_CONTENT = 200000;

	var CANDIDATES = [
		'a[href]', 'button', 'input:not([type="hidden"])', 'select', 'textarea',
		'summary', '[role="button"]', '[role="link"]', '[role="checkbox"]',
		'[role="radio"]', '[role="tab"]', '[role="menuitem"]', '[role="combobox"]',
		'[role="listbox"]', '[role="switch"]', '[role="searchbox"]',
		'[role="textbox"]', '[role="option"]', '[onclick]',
		'[contenteditable="true"]', '[contenteditable=""]',
		'[tabindex]:not([tabindex^="-"])'
	].join(', ');

	function cssEscape(v) {
		if (window.CSS && CSS.escape) { return CSS.escape(v); }
		return String(v).replace(/[^a-zA-Z0-9_-]/g, '\\$&');
	}

	function isClickableKind(el, tag) {
		if (tag === 'a' || tag === 'button' || tag === 'summary') { return true; }
		var role = el.getAttribute('role');
		return role === 'button' || role === 'link';
	}

	function isRendered(el, tag) {
		var st = window.getComputedStyle(el);
		if (!st || st.display === 'none' || st.visibility === 'hidden') { return false; }
		var r = el.getBoundingClientRect();
		if (r.width > 0 && r.height > 0) { return true; }
		// A zero-size box does not mean invisible: icon buttons and links whose
		// content is absolutely positioned or an overflowing pseudo-element
		// still render and receive clicks. Keep those when they carry text.
		return isClickableKind(el, tag) && ((el.innerText || el.textContent || '').trim() !== '');
	}

	function implicitRole(el, tag) {
		if (tag === 'a') { return 'link'; }
		if (tag === 'button' || tag === 'summary') { return 'button'; }
		if (tag === 'select') { return 'combobox'; }
		if (tag === 'textarea') { return 'textbox'; }
		if (tag === 'input') {
			var t = (el.getAttribute('type') || 'text').toLowerCase();
			if (t === 'checkbox') { return 'checkbox'; }
			if (t === 'radio') { return 'radio'; }
			if (t === 'submit' || t === 'button' || t === 'image' || t === 'reset') { return 'button'; }
			return 'textbox';
		}
		if (el.isContentEditable) { return 'textbox'; }
		return 'generic';
	}

	function deriveQuery(el, tag) {
		if (el.id) { return '#' + cssEscape(el.id); }
		var name = el.getAttribute('name');
		if (name) { return tag + '[name="' + name.replace(/\\/g, '\\\\').replace(/"/g, '\\"') + '"]'; }
		var type = el.getAttribute('type');
		if ((tag === 'input' || tag === 'button') && type) { return tag + '[type="' + type + '"]'; }
		return tag;
	}

	function labelText(el) {
		if (el.labels && el.labels.length > 0) {
			return (el.labels[0].innerText || '').trim();
		}
		return '';
	}

	function ownText(el, tag) {
		if (tag === 'select') { return ''; }
		var t = el.innerText;
		if (t == null) { t = el.textContent || ''; }
		return t.slice(0, 300);
	}

	var nodes = [];
	var all = document.querySelectorAll(CANDIDATES);
	for (var i = 0; i < all.length && nodes.length < MAX_NODES; i++) {
		var el = all[i];
		var tag = el.tagName.toLowerCase();
		if (!isRendered(el, tag)) { continue; }
		if (el.closest('[aria-hidden="true"]')) { continue; }

		var attrs = {};
		var ariaLabel = el.getAttribute('aria-label');
		if (ariaLabel) { attrs['aria-label'] = ariaLabel; }
		if (el.title) { attrs['title'] = el.title; }
		var placeholder = el.getAttribute('placeholder');
		if (placeholder) { attrs['placeholder'] = placeholder; }
		var type = el.getAttribute('type');
		if (type) { attrs['type'] = type.toLowerCase(); }
		if (tag === 'a' && el.href) { attrs['href'] = el.href; }
		var lbl = labelText(el);
		if (lbl) { attrs['label'] = lbl; }
		if ((tag === 'input' || tag === 'textarea') && el.value && attrs['type'] !== 'password') {
			attrs['value'] = String(el.value).slice(0, 300);
		}
		if (tag === 'select' && el.selectedIndex >= 0 && el.options[el.selectedIndex]) {
			attrs['value'] = String(el.options[el.selectedIndex].label || el.value).slice(0, 300);
		}

		var options = [];
		if (tag === 'select') {
			for (var j = 0; j < el.options.length && options.length < MAX_OPTIONS; j++) {
				var opt = el.options[j];
				options.push({ value: opt.value, label: (opt.label || opt.text || '').trim() });
			}
		}

		var query = deriveQuery(el, tag);
		var matches;
		try { matches = document.querySelectorAll(query); } catch (e) { matches = []; }

		var r = el.getBoundingClientRect();
		nodes.push({
			tag: tag,
			role: el.getAttribute('role') || implicitRole(el, tag),
			text: ownText(el, tag),
			attrs: attrs,
			rect: {
				x: Math.round(r.left + window.scrollX),
				y: Math.round(r.top + window.scrollY),
				w: Math.round(r.width),
				h: Math.round(r.height)
			},
			disabled: el.disabled === true || el.getAttribute('aria-disabled') === 'true',
			inDialog: !!el.closest('dialog[open], [role="dialog"], [role="alertdialog"], [aria-modal="true"]'),
			options: options,
			query: query,
			matchCount: matches.length,
			matchIndex: Array.prototype.indexOf.call(matches, el)
		});
	}

	var headings = [];
	var hs = document.querySelectorAll('h1, h2, h3');
	for (var k = 0; k < hs.length && headings.length < MAX_HEADINGS; k++) {
		var h = hs[k];
		if (!isRendered(h, 'h')) { continue; }
		var ht = (h.innerText || '').trim();
		if (ht) {
			headings.push({ level: parseInt(h.tagName.substring(1), 10), text: ht.slice(0, 200) });
		}
	}

	var main = document.querySelector('main, [role="main"], article') || document.body;
	var contentHTML = main ? main.innerHTML : '';
	if (contentHTML.length > MAX_CONTENT) { contentHTML = contentHTML.slice(0, MAX_CONTENT); }

	return {
		url: window.location.href,
		title: document.title,
		nodes: nodes,
		headings: headings,
		contentHTML: contentHTML
	};
})()`
