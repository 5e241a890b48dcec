package main

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex [paths...]",
	Short: "Walk the repo and refresh the file table for a new graph version",
	Long: `reindex walks the repository (or the given paths), upserts every
live file's content hash/size/language, tombstones files that have
disappeared since the last run, and opens a new graph version. Symbol
and edge extraction for each touched file is the responsibility of the
language-specific extractor that calls update_file_symbols/insert_edges
against the resulting version; this subcommand owns only the file-level
bookkeeping those extractors run against.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		roots := args
		if len(roots) == 0 {
			roots = []string{"."}
		}

		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		version, err := st.NewGraphVersion(ctx, nil)
		if err != nil {
			return err
		}

		seen := map[string]bool{}
		touched := 0
		for _, root := range roots {
			err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if info.IsDir() {
					if shouldSkipDir(info.Name()) {
						return filepath.SkipDir
					}
					return nil
				}
				lang := languageForExt(filepath.Ext(p))
				if lang == "" {
					return nil
				}
				hash, hashErr := hashFile(p)
				if hashErr != nil {
					logger.WithError(hashErr).Warn("skipping unreadable file")
					return nil
				}
				rel, _ := filepath.Rel(root, p)
				rel = filepath.ToSlash(rel)
				seen[rel] = true
				if _, err := st.UpsertFile(ctx, rel, hash, lang, info.Size(), info.ModTime()); err != nil {
					return err
				}
				touched++
				return nil
			})
			if err != nil {
				return err
			}
		}

		stale, err := st.ListLiveFiles(ctx, version-1, nil, nil)
		if err != nil {
			return err
		}
		for _, f := range stale {
			if !seen[f.Path] {
				if err := st.MarkFileDeleted(ctx, f.Path, version); err != nil {
					return err
				}
			}
		}

		logger.WithField("graph_version", version).WithField("files_touched", touched).Info("reindex complete")
		return nil
	},
}

func shouldSkipDir(name string) bool {
	switch name {
	case ".git", "node_modules", "vendor", ".gidx":
		return true
	default:
		return false
	}
}

var extLanguages = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".ts": "typescript",
	".tsx": "typescript", ".jsx": "javascript", ".java": "java", ".rb": "ruby",
	".rs": "rust", ".cs": "csharp", ".cpp": "cpp", ".cc": "cpp", ".c": "c",
	".h": "c", ".hpp": "cpp", ".php": "php", ".kt": "kotlin", ".scala": "scala",
}

func languageForExt(ext string) string {
	return extLanguages[strings.ToLower(ext)]
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

