package model

// RootPath is the relative path of the scan root itself.
const RootPath = "."

// FileEntry is a regular file found under a scan root
type FileEntry struct {
	RelPath string `json:"rel_path"` // slash-separated, relative to the scan root
	AbsPath string `json:"abs_path"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
}

// ParentPath returns the relative path of the folder that holds the file
func (f FileEntry) ParentPath() string {
	return ParentOf(f.RelPath)
}

// DirEntry is a sub-directory found under a scan root
type DirEntry struct {
	RelPath    string `json:"rel_path"`
	ParentPath string `json:"parent_path"` // RootPath for top-level directories
	AbsPath    string `json:"abs_path"`
	Name       string `json:"name"`
}

// Depth is the number of path separators in RelPath, 0 for top-level directories
func (d DirEntry) Depth() int {
	n := 0
	for i := 0; i < len(d.RelPath); i++ {
		if d.RelPath[i] == '/' {
			n++
		}
	}
	return n
}

// Inventory is the flat result of one scan
type Inventory struct {
	Root        string      `json:"root"`
	Files       []FileEntry `json:"files"`
	Dirs        []DirEntry  `json:"dirs"`
	TotalBytes  int64       `json:"total_bytes"`
	BrokenLinks int         `json:"broken_links"`
	SkippedDirs int         `json:"skipped_dirs"`
}

// PathMap maps a relative folder path (RootPath included) to a remote folder id
type PathMap map[string]string

// ParentOf returns the parent relative path of a slash-separated relative path
func ParentOf(rel string) string {
	for i := len(rel) - 1; i >= 0; i-- {
		if rel[i] == '/' {
			return rel[:i]
		}
	}
	return RootPath
}
