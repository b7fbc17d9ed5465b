// Package pages renders the public static site into a staging directory and
// scans rendered output for forbidden terms.
//
// builder.go holds the Builder: index.html with the ranked momentum table and
// one k/<slug>.html page per scored keyword, all from html/template consts
// parsed once at construction. The staging tree is rebuilt from scratch on
// every run and handed to the publisher for the atomic swap.
//
// check.go holds the content policy scan: a case-insensitive sweep of every
// rendered HTML file for terms that must never reach the public site.
package pages
