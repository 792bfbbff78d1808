// Package zipper packages checkpoint directories into zip archives.
package zipper

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sgl-project/sft-agent/pkg/afero"
)

// SkipFunc reports whether the entry at relPath should be left out of the archive.
// Returning true for a directory skips the whole subtree.
type SkipFunc func(relPath string, info os.FileInfo) bool

// SkipSuffixes skips regular files whose name ends with any of suffixes.
func SkipSuffixes(suffixes ...string) SkipFunc {
	return func(relPath string, info os.FileInfo) bool {
		if info.IsDir() {
			return false
		}
		for _, s := range suffixes {
			if strings.HasSuffix(relPath, s) {
				return true
			}
		}
		return false
	}
}

// ZipDirectory writes every entry under directory into outputFilename, keeping
// the relative layout. outputFilename must not live inside directory.
func ZipDirectory(fs afero.Fs, directory, outputFilename string, skip SkipFunc) (err error) {
	outFile, err := fs.Create(outputFilename)
	if err != nil {
		return fmt.Errorf("error creating output file: %v", err)
	}
	defer func() {
		if cerr := outFile.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	zipWriter := zip.NewWriter(outFile)
	defer func() {
		if cerr := zipWriter.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return afero.Walk(fs, directory, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(directory, filePath)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		if skip != nil && skip(relPath, info) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)
		if info.IsDir() {
			header.Name += "/"
		} else {
			header.Method = zip.Deflate
		}

		w, err := zipWriter.CreateHeader(header)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := fs.Open(filePath)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(w, f)
		return err
	})
}
