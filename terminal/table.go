package terminal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"framedftp/client"
)

// FileInfo is one row of a listing table.
type FileInfo struct {
	Name     string
	Type     string
	Size     int64
	Modified string
	IsDir    bool
}

// TableFormatter handles formatted table output
type TableFormatter struct {
	out io.Writer
}

// NewTableFormatter creates a formatter writing to out.
func NewTableFormatter(out io.Writer) *TableFormatter {
	return &TableFormatter{out: out}
}

func (tf *TableFormatter) newTable() *tablewriter.Table {
	table := tablewriter.NewWriter(tf.out)
	table.Options(
		tablewriter.WithRendition(tw.Rendition{Borders: tw.Border{Left: tw.Pending, Right: tw.Pending, Top: tw.Pending, Bottom: tw.Pending}}),
	)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.MaxWidth = 0
		cfg.Header = tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignLeft}}
		cfg.Row = tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignLeft}}
	})
	table.Header("Name", "Type", "Size", "Modified")
	return table
}

// FormatRemote renders a remote listing.
func (tf *TableFormatter) FormatRemote(entries []client.Entry) error {
	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		kind := "file"
		if e.IsDir {
			kind = "dir"
		}
		files = append(files, FileInfo{Name: e.Name, Type: kind, Size: e.Size, Modified: e.ModTime, IsDir: e.IsDir})
	}
	return tf.render(files)
}

// FormatLocalDirectory formats a local directory listing
func (tf *TableFormatter) FormatLocalDirectory(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}

	var files []FileInfo
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		kind := "file"
		if entry.IsDir() {
			kind = "dir"
		} else if info.Mode()&os.ModeSymlink != 0 {
			kind = "link"
		}
		files = append(files, FileInfo{
			Name:     entry.Name(),
			Type:     kind,
			Size:     info.Size(),
			Modified: info.ModTime().Format("Jan 02 15:04"),
			IsDir:    entry.IsDir(),
		})
	}
	return tf.render(files)
}

func (tf *TableFormatter) render(files []FileInfo) error {
	if len(files) == 0 {
		fmt.Fprintln(tf.out, "Directory is empty")
		return nil
	}

	table := tf.newTable()
	for _, file := range files {
		size := FormatSize(file.Size)
		name := file.Name
		if file.IsDir {
			size = "-"
			name += "/"
		}
		if len(name) > 50 {
			name = name[:47] + "..."
		}

		// Files show their extension in caps
		kind := file.Type
		if kind == "file" {
			if ext := filepath.Ext(file.Name); ext != "" {
				kind = strings.ToUpper(strings.TrimPrefix(ext, "."))
			}
		}

		if err := table.Append([]string{name, kind, size, file.Modified}); err != nil {
			return err
		}
	}
	return table.Render()
}

// FormatSize formats a file size in human-readable format
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
