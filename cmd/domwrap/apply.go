package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/sergi/go-diff/diffmatchpatch"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/pstuifzand/go-domwrap"
)

const stdinName = "-"

var fullDocumentRe = regexp.MustCompile(`(?i)<(!doctype|html)[\s>]`)

type applyOptions struct {
	RulesFile string
	Pattern   string
	Flags     string
	Tag       string
	Class     string
	Selector  string
	Write     bool
	Diff      bool
}

type fileResult struct {
	path    string
	before  string
	after   string
	matches int
}

// collectRules loads the rule file and appends the inline pattern, if any.
func collectRules(opts applyOptions, cfg Config) ([]Rule, error) {
	var rules []Rule
	if opts.RulesFile != "" {
		f, err := os.Open(opts.RulesFile)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		defer f.Close()

		rules, err = LoadRules(f)
		if err != nil {
			return nil, errors.Errorf("%s: %w", opts.RulesFile, err)
		}
	}

	if opts.Pattern != "" {
		rule := Rule{
			Pattern:  opts.Pattern,
			Flags:    firstNonEmpty(opts.Flags, cfg.Flags),
			Tag:      firstNonEmpty(opts.Tag, cfg.Tag),
			Class:    opts.Class,
			Selector: firstNonEmpty(opts.Selector, cfg.Selector),
		}
		if _, _, err := rule.compile(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if len(rules) == 0 {
		return nil, errors.New("no rules: use --rules or --pattern")
	}
	for i := range rules {
		if rules[i].Selector == "" {
			rules[i].Selector = cfg.Selector
		}
		if rules[i].Tag == "" {
			rules[i].Tag = cfg.Tag
		}
	}
	return rules, nil
}

// expandInputs resolves glob patterns, including **, to a sorted list of
// unique files. No arguments means standard input.
func expandInputs(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return []string{stdinName}, nil
	}

	seen := map[string]bool{}
	var files []string
	for _, pattern := range patterns {
		if pattern == stdinName {
			if !seen[stdinName] {
				seen[stdinName] = true
				files = append(files, stdinName)
			}
			continue
		}

		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, errors.Errorf("bad pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, errors.Errorf("no files match %s", pattern)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}

// wrapDocument applies rules to one HTML source. Sources that carry their
// own <html> or doctype are rendered whole, fragments as body content.
func wrapDocument(ctx context.Context, src string, rules []Rule) (string, int, error) {
	doc, err := domwrap.ParseDocument(strings.NewReader(src))
	if err != nil {
		return "", 0, err
	}

	total := 0
	for i, res := range applyRules(ctx, doc, rules) {
		if res.err != nil {
			return "", 0, errors.Errorf("rule %s: %w", rules[i].withDefaults().Name, res.err)
		}
		total += res.matches
	}

	var out string
	if fullDocumentRe.MatchString(src) {
		out, err = doc.HTML()
	} else {
		out, err = doc.BodyHTML()
	}
	if err != nil {
		return "", 0, errors.WithStack(err)
	}
	return out, total, nil
}

// runApply processes every input concurrently and reports the results in
// input order.
func runApply(ctx context.Context, cfg Config, opts applyOptions, args []string, stdin io.Reader, stdout io.Writer) error {
	logger := zerolog.Ctx(ctx)

	rules, err := collectRules(opts, cfg)
	if err != nil {
		return err
	}
	files, err := expandInputs(args)
	if err != nil {
		return err
	}
	if opts.Write {
		for _, f := range files {
			if f == stdinName {
				return errors.New("--write cannot be used with standard input")
			}
		}
	}

	results := make([]fileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	for i, path := range files {
		g.Go(func() error {
			src, err := readInput(path, stdin)
			if err != nil {
				return err
			}

			out, n, err := wrapDocument(gctx, src, rules)
			if err != nil {
				return errors.Errorf("%s: %w", path, err)
			}
			results[i] = fileResult{path: path, before: src, after: out, matches: n}

			logger.Debug().Str("file", path).Int("matches", n).Msg("processed")

			if opts.Write && n > 0 {
				info, err := os.Stat(path)
				if err != nil {
					return errors.WithStack(err)
				}
				if err := os.WriteFile(path, []byte(out), info.Mode().Perm()); err != nil {
					return errors.WithStack(err)
				}
				logger.Info().Str("file", path).Int("matches", n).Msg("updated")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	switch {
	case opts.Diff:
		for _, r := range results {
			printDiff(stdout, r, cfg.Color)
		}
	case !opts.Write:
		for _, r := range results {
			if len(results) > 1 {
				fmt.Fprintf(stdout, "==> %s <==\n", r.path)
			}
			fmt.Fprintln(stdout, r.after)
		}
	}
	return nil
}

func printDiff(w io.Writer, r fileResult, useColor bool) {
	if r.before == r.after {
		return
	}

	fmt.Fprintf(w, "--- %s\n+++ %s\n", r.path, r.path)
	diffs := diffHTML(r.before, r.after)
	if useColor {
		fmt.Fprintln(w, diffmatchpatch.New().DiffPrettyText(diffs))
		return
	}
	fmt.Fprintln(w, formatDiff(diffs))
}

func readInput(path string, stdin io.Reader) (string, error) {
	if path == stdinName {
		data, err := io.ReadAll(stdin)
		return string(data), errors.WithStack(err)
	}
	data, err := os.ReadFile(path)
	return string(data), errors.WithStack(err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
