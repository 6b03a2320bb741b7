package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxFilesToList is the maximum number of files list_files returns
const MaxFilesToList = 500

// DefaultLineCount is the number of lines read_file returns when none is asked for
const DefaultLineCount = 200

// Workspace confines the file tools to one directory tree
type Workspace struct {
	root   string
	ignore *ignoreMatcher
}

// NewWorkspace roots the file tools at dir, which must exist
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", dir)
	}
	return &Workspace{root: abs, ignore: newIgnoreMatcher(abs)}, nil
}

// Root returns the absolute workspace directory
func (w *Workspace) Root() string { return w.root }

// Tools returns read_file and list_files bound to the workspace
func (w *Workspace) Tools() []Tool {
	return []Tool{
		NewFuncTool("read_file",
			"Read a text file from the workspace. Reads the first 200 lines unless line_number and line_count are given.",
			w.readFile).WithRetries(2),
		NewFuncTool("list_files",
			"List source files under a workspace directory recursively. Binary files, build outputs, dependencies and .gitignore matches are skipped. Returns up to 500 files.",
			w.listFiles).WithRetries(2),
	}
}

// resolve maps a workspace-relative path to an absolute one inside the root
func (w *Workspace) resolve(rel string) (string, error) {
	if rel == "" {
		rel = "."
	}
	full := rel
	if !filepath.IsAbs(full) {
		full = filepath.Join(w.root, rel)
	}
	full = filepath.Clean(full)
	within, err := filepath.Rel(w.root, full)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", rel)
	}
	return full, nil
}

// ReadFileArgs are the read_file parameters
type ReadFileArgs struct {
	Path       string `json:"path" jsonschema_description:"File path relative to the workspace root"`
	LineNumber int    `json:"line_number,omitempty" jsonschema_description:"First line to read (1-indexed). Default 1"`
	LineCount  int    `json:"line_count,omitempty" jsonschema_description:"Number of lines to read. Default 200"`
}

// ReadFileResult is returned by read_file
type ReadFileResult struct {
	Path      string   `json:"path"`
	Lines     []string `json:"lines"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	LinesRead int      `json:"lines_read"`
}

func (w *Workspace) readFile(ctx context.Context, args ReadFileArgs) (interface{}, error) {
	if args.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	path, err := w.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	if args.LineNumber < 1 {
		args.LineNumber = 1
	}
	if args.LineCount < 1 {
		args.LineCount = DefaultLineCount
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, &ModelRetryError{Message: fmt.Sprintf("Failed to open file: %v", err)}
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	lines := []string{}
	last := args.LineNumber + args.LineCount
	for current := 1; current < last && scanner.Scan(); current++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if current >= args.LineNumber {
			lines = append(lines, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ModelRetryError{Message: fmt.Sprintf("Error reading file: %v", err)}
	}

	return ReadFileResult{
		Path:      args.Path,
		Lines:     lines,
		StartLine: args.LineNumber,
		EndLine:   args.LineNumber + len(lines) - 1,
		LinesRead: len(lines),
	}, nil
}

// ListFilesArgs are the list_files parameters
type ListFilesArgs struct {
	Directory string `json:"directory,omitempty" jsonschema_description:"Directory relative to the workspace root. Default is the root"`
}

// ListFilesResult is returned by list_files. Error is set instead of failing
// for paths the model can correct.
type ListFilesResult struct {
	Files     []string `json:"files"`
	Count     int      `json:"count"`
	Skipped   int      `json:"skipped"`
	Truncated bool     `json:"truncated,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func (w *Workspace) listFiles(ctx context.Context, args ListFilesArgs) (interface{}, error) {
	dir, err := w.resolve(args.Directory)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(dir)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return ListFilesResult{Files: []string{}, Error: fmt.Sprintf("Directory '%s' does not exist", args.Directory)}, nil
		}
		return nil, &ModelRetryError{Message: fmt.Sprintf("Failed to access directory: %v", statErr)}
	}
	if !info.IsDir() {
		return ListFilesResult{Files: []string{}, Error: fmt.Sprintf("Path '%s' is not a directory; use read_file", args.Directory)}, nil
	}

	result := ListFilesResult{Files: []string{}}

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		relPath, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			relPath = path
		}
		if relPath == "." {
			return nil
		}

		rootRel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			rootRel = relPath
		}
		ignored := w.ignore.Match(rootRel, info.IsDir())
		if info.IsDir() {
			if ignored {
				result.Skipped++
				return filepath.SkipDir
			}
			return nil
		}
		if ignored || isBinary(path) {
			result.Skipped++
			return nil
		}

		if len(result.Files) >= MaxFilesToList {
			result.Truncated = true
			return filepath.SkipAll
		}
		result.Files = append(result.Files, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ModelRetryError{Message: fmt.Sprintf("Failed to list files: %v", err)}
	}

	result.Count = len(result.Files)
	return result, nil
}
