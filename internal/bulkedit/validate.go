package bulkedit

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	tomllang "github.com/smacker/go-tree-sitter/toml"
)

// ValidationError contains structured information about a syntax error.
type ValidationError struct {
	FilePath string
	Line     uint32 // 0-indexed
	Column   uint32 // 0-indexed
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.FilePath, e.Line+1, e.Column+1, e.Message)
}

// Validate parses content with the tree-sitter TOML grammar and returns
// an error if the AST contains syntax errors. This runs on every staged
// change before anything touches disk.
func Validate(content []byte, filePath string) error {
	parser := sitter.NewParser()
	parser.SetLanguage(tomllang.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return fmt.Errorf("tree-sitter parse failed for %s: %w", filePath, err)
	}

	root := tree.RootNode()
	if root == nil {
		return fmt.Errorf("tree-sitter returned nil root for %s", filePath)
	}
	if !root.HasError() {
		return nil
	}

	if errNode := findFirstError(root); errNode != nil {
		return &ValidationError{
			FilePath: filePath,
			Line:     uint32(errNode.StartPoint().Row),
			Column:   uint32(errNode.StartPoint().Column),
			Message:  "syntax error in AST",
		}
	}
	return &ValidationError{FilePath: filePath, Message: "AST contains errors"}
}

// findFirstError does a depth-first search for the first ERROR node.
func findFirstError(node *sitter.Node) *sitter.Node {
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsError() || child.IsMissing() {
			if found := findFirstError(child); found != nil {
				return found
			}
		}
	}
	return nil
}
