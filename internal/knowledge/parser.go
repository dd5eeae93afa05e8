package knowledge

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxIndexedBytes caps how much of a file goes into the FTS index.
const maxIndexedBytes = 200_000

// ParseFile reads a file and returns a Document ready for indexing. Paths
// are stored relative to root so the same tree indexed from different
// mounts dedupes.
func ParseFile(path, root string) (Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read file %s: %w", path, err)
	}
	if len(content) > maxIndexedBytes {
		content = content[:maxIndexedBytes]
	}

	relPath, err := filepath.Rel(root, path)
	if err != nil {
		relPath = path
	}

	title := filepath.Base(path)
	category := categorizeFile(path)

	var parsed string
	switch category {
	case "go_source":
		parsed = parseGoSource(string(content), relPath)
	default:
		parsed = string(content)
	}

	return Document{
		Path:     relPath,
		Title:    title,
		Content:  parsed,
		Category: category,
	}, nil
}

// categorizeFile maps a file extension to a document category.
func categorizeFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python"
	case ".js":
		return "javascript"
	case ".ts":
		return "typescript"
	case ".go":
		return "go_source"
	case ".java":
		return "java"
	case ".md":
		return "markdown"
	case ".yaml", ".yml", ".json", ".toml", ".ini":
		return "config"
	default:
		return "text"
	}
}

// parseGoSource reduces Go source to its searchable skeleton: package
// line, type and func signatures, const/var heads, with their comments.
// Full bodies add noise to term frequencies without adding recall.
func parseGoSource(content, relPath string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("File: %s\n", relPath))

	scanner := bufio.NewScanner(strings.NewReader(content))
	var (
		inComment   bool
		commentBuf  strings.Builder
		lastComment string
	)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "/*") {
			inComment = true
			commentBuf.Reset()
			commentBuf.WriteString(strings.TrimPrefix(trimmed, "/*"))
			if strings.Contains(trimmed, "*/") {
				inComment = false
				lastComment = strings.TrimSuffix(commentBuf.String(), "*/")
			}
			continue
		}
		if inComment {
			if strings.Contains(trimmed, "*/") {
				inComment = false
				commentBuf.WriteString(" " + strings.TrimSuffix(trimmed, "*/"))
				lastComment = commentBuf.String()
			} else {
				commentBuf.WriteString(" " + trimmed)
			}
			continue
		}

		if strings.HasPrefix(trimmed, "//") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "//"))
			if lastComment != "" {
				lastComment += " " + comment
			} else {
				lastComment = comment
			}
			continue
		}

		if strings.HasPrefix(trimmed, "package ") {
			b.WriteString(trimmed)
			b.WriteString("\n\n")
			lastComment = ""
			continue
		}

		if strings.HasPrefix(trimmed, "type ") {
			if lastComment != "" {
				b.WriteString("// " + lastComment + "\n")
			}
			b.WriteString(trimmed)
			b.WriteString("\n\n")
			lastComment = ""
			continue
		}

		if strings.HasPrefix(trimmed, "func ") {
			if lastComment != "" {
				b.WriteString("// " + lastComment + "\n")
			}
			sig := trimmed
			if idx := strings.Index(sig, "{"); idx >= 0 {
				sig = strings.TrimSpace(sig[:idx])
			}
			b.WriteString(sig)
			b.WriteString("\n\n")
			lastComment = ""
			continue
		}

		if strings.HasPrefix(trimmed, "const ") || strings.HasPrefix(trimmed, "var ") {
			if lastComment != "" {
				b.WriteString("// " + lastComment + "\n")
			}
			b.WriteString(trimmed)
			b.WriteString("\n")
			lastComment = ""
			continue
		}

		if trimmed != "" {
			lastComment = ""
		}
	}

	return b.String()
}

// FormatDiscovery formats a shared discovery for indexing.
func FormatDiscovery(id, agent, discoveryType, description, details string) Document {
	path := fmt.Sprintf("discovery:%s", id)
	title := fmt.Sprintf("Discovery by %s [%s]", agent, discoveryType)

	var content strings.Builder
	content.WriteString(description)
	if details != "" && details != "{}" {
		content.WriteString("\n")
		content.WriteString(details)
	}

	return Document{
		Path:     path,
		Title:    title,
		Content:  content.String(),
		Category: "discovery",
	}
}

// FormatTaskSummary formats a completed task for indexing.
func FormatTaskSummary(id, title, description, owner string) Document {
	path := fmt.Sprintf("task:%s", id)

	var content strings.Builder
	content.WriteString(fmt.Sprintf("Task: %s\n", title))
	if description != "" {
		content.WriteString(fmt.Sprintf("Description: %s\n", description))
	}
	if owner != "" {
		content.WriteString(fmt.Sprintf("Owner: %s\n", owner))
	}

	return Document{
		Path:     path,
		Title:    title,
		Content:  content.String(),
		Category: "task_summary",
	}
}

// ShouldIndex reports whether the file at path is eligible for content
// indexing. extensions and skipDirs come from the Librarian exploration
// config; extensions carry leading dots.
func ShouldIndex(path string, extensions []string, skipDirs []string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}

	dir := filepath.Dir(path)
	sep := string(filepath.Separator)
	for _, skip := range skipDirs {
		if strings.Contains(dir, sep+skip+sep) || strings.HasSuffix(dir, sep+skip) || strings.HasPrefix(dir, skip+sep) || dir == skip {
			return false
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
