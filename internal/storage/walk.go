package storage

import (
	"context"
	"path"
)

// TreeEntry is a file discovered during traversal, together with the folder
// path of its parent relative to the walk root ("" for the top level).
type TreeEntry struct {
	File    FileInfo
	RelPath string
}

// WalkTree enumerates every file under rootFolderID using an explicit work
// stack rather than recursion. Folders are traversed but not returned; the
// caller counts and copies files only. Listing errors abort the walk.
func WalkTree(ctx context.Context, p Provider, rootFolderID string) ([]TreeEntry, error) {
	type frame struct {
		folderID string
		relPath  string
	}

	var entries []TreeEntry
	stack := []frame{{folderID: rootFolderID}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := p.ListChildren(ctx, top.folderID)
		if err != nil {
			return nil, err
		}

		for _, child := range children {
			if child.IsDir {
				stack = append(stack, frame{
					folderID: child.ID,
					relPath:  path.Join(top.relPath, child.Name),
				})
				continue
			}
			entries = append(entries, TreeEntry{File: child, RelPath: top.relPath})
		}
	}

	return entries, nil
}
