// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guard validates proposed source transformations before they
// are allowed anywhere near the commit path.
//
// Three checks are available, in increasing strictness:
//
//   - parse: the transformed source is syntactically valid Python
//   - ast_equiv: before and after parse to structurally equal trees
//     modulo formatting (whitespace, quote style)
//   - cst_apply: re-serializing the parsed tree reproduces the source
//     byte for byte, proving the toolchain itself is lossless
//
// Parsing uses tree-sitter; a fresh parser instance is created per call
// so a Verifier is safe for concurrent use.
package guard

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// DefaultMaxFileSize is the largest source the verifier will accept.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Option configures a Verifier instance.
type Option func(*Verifier)

// WithMaxFileSize sets the maximum source size the verifier accepts.
func WithMaxFileSize(bytes int64) Option {
	return func(v *Verifier) {
		if bytes > 0 {
			v.maxFileSize = bytes
		}
	}
}

// WithCache attaches a verification-result cache. GuardEdit consults it
// before parsing and stores fresh results after.
func WithCache(c *Cache) Option {
	return func(v *Verifier) {
		v.cache = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger.With(slog.String("component", "guard"))
		}
	}
}

// Verifier validates Python source transformations.
//
// # Thread Safety
//
// Verifier instances are safe for concurrent use. Each verification
// creates its own tree-sitter parser internally.
type Verifier struct {
	maxFileSize int64
	cache       *Cache
	logger      *slog.Logger
}

// NewVerifier creates a Verifier with the given options.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default().With(slog.String("component", "guard")),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyParse checks syntactic validity of source. No execution, no
// side effects; error strings carry line:col positions.
func (v *Verifier) VerifyParse(ctx context.Context, source []byte) (bool, []string) {
	tree, errs := v.parse(ctx, source)
	if tree == nil {
		return false, errs
	}
	defer tree.Close()

	errs = append(errs, collectSyntaxErrors(tree.RootNode(), source)...)
	return len(errs) == 0, errs
}

// VerifyASTEquivalence reports whether before and after parse to
// structurally equal syntax trees modulo formatting. Comments are
// ignored; string literals compare by content rather than quote style.
// Used to catch codemods that accidentally change program semantics.
func (v *Verifier) VerifyASTEquivalence(ctx context.Context, before, after []byte) (bool, []string) {
	beforeTree, errs := v.parse(ctx, before)
	if beforeTree == nil {
		return false, prefixErrors("before", errs)
	}
	defer beforeTree.Close()
	if beforeErrs := collectSyntaxErrors(beforeTree.RootNode(), before); len(beforeErrs) > 0 {
		return false, prefixErrors("before", beforeErrs)
	}

	afterTree, errs := v.parse(ctx, after)
	if afterTree == nil {
		return false, prefixErrors("after", errs)
	}
	defer afterTree.Close()
	if afterErrs := collectSyntaxErrors(afterTree.RootNode(), after); len(afterErrs) > 0 {
		return false, prefixErrors("after", afterErrs)
	}

	if diff := structuralDiff(beforeTree.RootNode(), afterTree.RootNode(), before, after); diff != "" {
		return false, []string{"trees are not structurally equivalent: " + diff}
	}
	return true, nil
}

// VerifyRoundTrip reports whether re-serializing the parsed tree
// reproduces byte-identical source. Reconstruction concatenates every
// leaf token with the original inter-token gaps; any byte the tree
// fails to cover (dropped tokens, zero-width nodes) breaks equality.
func (v *Verifier) VerifyRoundTrip(ctx context.Context, source []byte) (bool, []string) {
	tree, errs := v.parse(ctx, source)
	if tree == nil {
		return false, errs
	}
	defer tree.Close()

	if syntaxErrs := collectSyntaxErrors(tree.RootNode(), source); len(syntaxErrs) > 0 {
		return false, syntaxErrs
	}

	rebuilt, err := reserialize(tree.RootNode(), source)
	if err != nil {
		return false, []string{err.Error()}
	}
	if !bytes.Equal(rebuilt, source) {
		return false, []string{"re-serialized source differs from input"}
	}
	return true, nil
}

// GuardEdit validates one proposed file transformation end to end.
//
// # Description
//
// Runs the parse check on the transformed content always; when strict
// is set, additionally requires AST equivalence between before and
// after; always requires a lossless round-trip of the transformed
// content. The first failing check determines the Result's GuardType
// and Errors.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - path: File the transformation targets (reporting only).
//   - before: Content prior to the transformation.
//   - after: Proposed content.
//   - strict: Require AST equivalence in addition to parse validity.
//
// # Outputs
//
//   - *Result: Never nil. Passed is true only if every check passed.
func (v *Verifier) GuardEdit(ctx context.Context, path string, before, after []byte, strict bool) *Result {
	start := time.Now()

	if v.cache != nil {
		if cached, ok := v.cache.Get(ctx, before, after, strict); ok {
			cached.File = path
			cached.BeforeContent = string(before)
			cached.AfterContent = string(after)
			recordGuardCheck(ctx, cached, time.Since(start), true)
			return cached
		}
	}

	result := &Result{
		File:          path,
		BeforeContent: string(before),
		AfterContent:  string(after),
	}

	if ok, errs := v.VerifyParse(ctx, after); !ok {
		result.GuardType = TypeParse
		result.Errors = errs
		v.finish(ctx, result, strict, start)
		return result
	}

	if strict {
		if ok, errs := v.VerifyASTEquivalence(ctx, before, after); !ok {
			result.GuardType = TypeASTEquiv
			result.Errors = errs
			v.finish(ctx, result, strict, start)
			return result
		}
	}

	if ok, errs := v.VerifyRoundTrip(ctx, after); !ok {
		result.GuardType = TypeCSTApply
		result.Errors = errs
		v.finish(ctx, result, strict, start)
		return result
	}

	result.Passed = true
	result.GuardType = TypeParse
	v.finish(ctx, result, strict, start)
	return result
}

// finish records metrics and stores the result in the cache.
func (v *Verifier) finish(ctx context.Context, result *Result, strict bool, start time.Time) {
	recordGuardCheck(ctx, result, time.Since(start), false)
	if v.cache != nil {
		if err := v.cache.Put(ctx, []byte(result.BeforeContent), []byte(result.AfterContent), strict, result); err != nil {
			v.logger.Warn("guard cache store failed", slog.String("error", err.Error()))
		}
	}
}

// parse validates size and encoding, then runs tree-sitter. Returns a
// nil tree with error strings on complete failure.
func (v *Verifier) parse(ctx context.Context, source []byte) (*sitter.Tree, []string) {
	if err := ctx.Err(); err != nil {
		return nil, []string{fmt.Sprintf("verification canceled: %v", err)}
	}
	if int64(len(source)) > v.maxFileSize {
		return nil, []string{fmt.Sprintf("%v: size %d exceeds limit %d", ErrFileTooLarge, len(source), v.maxFileSize)}
	}
	if !utf8.Valid(source) {
		return nil, []string{ErrInvalidContent.Error()}
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, []string{fmt.Sprintf("tree-sitter parse failed: %v", err)}
	}
	return tree, nil
}

// collectSyntaxErrors walks the tree for ERROR and missing nodes.
func collectSyntaxErrors(root *sitter.Node, source []byte) []string {
	if root == nil {
		return []string{"tree-sitter returned nil root node"}
	}
	if !root.HasError() {
		return nil
	}

	var errs []string
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch {
		case node.IsMissing():
			errs = append(errs, fmt.Sprintf("missing %s at %d:%d", node.Type(), node.StartPoint().Row+1, node.StartPoint().Column))
			continue
		case node.Type() == "ERROR":
			errs = append(errs, fmt.Sprintf("syntax error at %d:%d", node.StartPoint().Row+1, node.StartPoint().Column))
			continue
		case !node.HasError():
			// Subtree is clean, skip it.
			continue
		}

		// Push children in reverse so errors are reported in source order.
		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, node.Child(i))
		}
	}

	if len(errs) == 0 {
		errs = append(errs, "source contains syntax errors")
	}
	return errs
}

// structuralDiff compares two trees ignoring formatting. Returns "" if
// equal, otherwise a description of the first divergence.
func structuralDiff(a, b *sitter.Node, aSrc, bSrc []byte) string {
	if a.Type() != b.Type() {
		return fmt.Sprintf("%s at %d:%d vs %s at %d:%d",
			a.Type(), a.StartPoint().Row+1, a.StartPoint().Column,
			b.Type(), b.StartPoint().Row+1, b.StartPoint().Column)
	}

	// String literals compare by content so quote style is irrelevant.
	if a.Type() == "string" {
		ap, ac := normalizeStringLiteral(nodeText(a, aSrc))
		bp, bc := normalizeStringLiteral(nodeText(b, bSrc))
		if ap != bp || ac != bc {
			return fmt.Sprintf("string literal at %d:%d changed content", a.StartPoint().Row+1, a.StartPoint().Column)
		}
		return ""
	}

	ac := semanticChildren(a)
	bc := semanticChildren(b)
	if len(ac) != len(bc) {
		return fmt.Sprintf("%s at %d:%d has %d children vs %d", a.Type(), a.StartPoint().Row+1, a.StartPoint().Column, len(ac), len(bc))
	}

	if len(ac) == 0 {
		if nodeText(a, aSrc) != nodeText(b, bSrc) {
			return fmt.Sprintf("token %q at %d:%d vs %q", nodeText(a, aSrc), a.StartPoint().Row+1, a.StartPoint().Column, nodeText(b, bSrc))
		}
		return ""
	}

	for i := range ac {
		if diff := structuralDiff(ac[i], bc[i], aSrc, bSrc); diff != "" {
			return diff
		}
	}
	return ""
}

// semanticChildren returns all children except comments, which carry no
// program semantics.
func semanticChildren(node *sitter.Node) []*sitter.Node {
	count := int(node.ChildCount())
	children := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		child := node.Child(i)
		if child.Type() == "comment" {
			continue
		}
		children = append(children, child)
	}
	return children
}

// normalizeStringLiteral splits a Python string literal into its
// lowercase prefix (r, b, f, u combinations) and unquoted content.
func normalizeStringLiteral(raw string) (prefix, content string) {
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case 'r', 'R', 'b', 'B', 'f', 'F', 'u', 'U':
			prefix += strings.ToLower(string(raw[i]))
			i++
			continue
		}
		break
	}
	content = raw[i:]
	for _, quote := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(content, quote) && strings.HasSuffix(content, quote) && len(content) >= 2*len(quote) {
			content = content[len(quote) : len(content)-len(quote)]
			break
		}
	}
	return prefix, content
}

// reserialize reconstructs source from leaf tokens plus the original
// inter-token gaps.
func reserialize(root *sitter.Node, source []byte) ([]byte, error) {
	var buf bytes.Buffer
	var last uint32

	var walk func(node *sitter.Node) error
	walk = func(node *sitter.Node) error {
		count := int(node.ChildCount())
		if count == 0 {
			start, end := node.StartByte(), node.EndByte()
			if start < last {
				return fmt.Errorf("token overlap at byte %d", start)
			}
			buf.Write(source[last:start])
			buf.Write(source[start:end])
			last = end
			return nil
		}
		for i := 0; i < count; i++ {
			if err := walk(node.Child(i)); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	buf.Write(source[last:])
	return buf.Bytes(), nil
}

// nodeText returns the source text covered by a node.
func nodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// prefixErrors labels error strings with which side of the comparison
// they came from.
func prefixErrors(side string, errs []string) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = side + ": " + e
	}
	return out
}
