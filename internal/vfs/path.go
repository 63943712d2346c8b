package vfs

import "strings"

// splitPath breaks a path into the directory names leading up to its last
// component and the residual name after the final slash. A trailing slash
// leaves the residual empty, which names the directory itself. Paths carry no
// leading slash; every lookup starts at the root directory.
func splitPath(path string) ([]string, string) {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return nil, path
	}
	return strings.Split(path[:idx], "/"), path[idx+1:]
}

// validName reports whether name can be stored in a metadata record.
func validName(name string) bool {
	if name == "" || len(name) > maxNameLen {
		return false
	}
	return !strings.ContainsAny(name, "/\x00")
}
