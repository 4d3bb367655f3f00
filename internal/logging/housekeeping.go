// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/pgzip"
)

// Rotate renames path to path+".1", recreates an empty file at path,
// and compresses the rotated file to path+".1.gz" using pgzip's
// parallel gzip writer. It is the operation the "log-rotate" scheduled
// task (SPEC_FULL.md §4.10) runs, so a long-lived server never holds
// one unbounded log file open for its whole lifetime. Returns the path
// of the compressed file on success.
func Rotate(path string) (string, error) {
	rotated := path + ".1"
	if err := os.Rename(path, rotated); err != nil {
		return "", fmt.Errorf("logging: rotate %s: %w", path, err)
	}

	// Recreate the file at the original path so the still-open
	// io.Writer handle logging.New returned keeps working after
	// rotation; os.Rename does not invalidate an already-open fd on
	// the renamed file, but callers that reopen per write (none here)
	// would otherwise start writing into the rotated copy.
	if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		f.Close()
	}

	compressed := rotated + ".gz"
	if err := compressFile(rotated, compressed); err != nil {
		return "", err
	}
	if err := os.Remove(rotated); err != nil {
		return "", fmt.Errorf("logging: remove rotated source %s: %w", rotated, err)
	}
	return compressed, nil
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("logging: create %s: %w", dst, err)
	}
	defer out.Close()

	gz := pgzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		return fmt.Errorf("logging: compress %s: %w", src, err)
	}
	return gz.Close()
}
