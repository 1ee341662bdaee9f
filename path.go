package pintofs

// nextPart tokenizes one path component off the front of src: it skips
// leading '/', copies bytes up to the next '/' or end of string, and
// reports whether a component was found. ok is false at end of string;
// err is ErrNameTooLong if the component would exceed NameMax bytes.
func nextPart(src string) (part, rest string, ok bool, err error) {
	i := 0
	for i < len(src) && src[i] == '/' {
		i++
	}
	if i == len(src) {
		return "", "", false, nil
	}
	j := i
	for j < len(src) && src[j] != '/' {
		j++
	}
	if j-i > NameMax {
		return "", "", false, ErrNameTooLong
	}
	return src[i:j], src[j:], true, nil
}

// resolveStart picks the walk's origin: a leading '/' resets to the
// root; otherwise the walk starts at the task's cwd
// (opening the root as cwd if none is set yet). Either way the returned
// Directory is a fresh reference the walk owns and must close — the
// task's own cwd handle is never consumed.
func (t *Task) resolveStart(path string) (*Directory, error) {
	if path == "" {
		return nil, ErrInvalidArgument
	}
	if path[0] == '/' {
		return openRootDirectory(t.fs)
	}
	if t.cwd == nil {
		d, err := openRootDirectory(t.fs)
		if err != nil {
			return nil, err
		}
		t.cwd = d
	}
	return t.cwd.Reopen(), nil
}

// GetLastDir returns the directory containing the last component of
// path — the parent of the named leaf — regardless of whether that leaf
// exists. This is what Create needs: it walks every component but the
// last, descending into subdirectories, and stops one short of the leaf.
//
// On any failure no handle escapes: every directory opened during the
// walk is closed before returning.
func (t *Task) GetLastDir(path string) (*Directory, error) {
	dir, err := t.resolveStart(path)
	if err != nil {
		return nil, err
	}

	part, rest, ok, err := nextPart(path)
	if err != nil {
		dir.Close()
		return nil, err
	}
	if !ok {
		dir.Close()
		return nil, ErrInvalidArgument
	}

	for {
		nextName, nextRest, nok, nerr := nextPart(rest)
		if nerr != nil {
			dir.Close()
			return nil, nerr
		}
		if !nok {
			// part is the final leaf; dir is its parent whether or not it exists.
			return dir, nil
		}

		child, err := dir.Lookup(part)
		if err != nil {
			dir.Close()
			return nil, err
		}
		isDir, err := child.IsDir()
		if err != nil {
			child.Close()
			dir.Close()
			return nil, err
		}
		if !isDir {
			child.Close()
			dir.Close()
			return nil, ErrNotADirectory
		}
		dir.Close()
		dir = &Directory{fs: t.fs, ino: child}
		part, rest = nextName, nextRest
	}
}

// GetFilenameFromPath returns the final path component's name without
// resolving anything on disk. It fails only if some component exceeds
// NameMax.
func GetFilenameFromPath(path string) (string, error) {
	name := ""
	rest := path
	for {
		part, r, ok, err := nextPart(rest)
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		name = part
		rest = r
	}
	return name, nil
}

// Verify resolves path fully, returning the parent directory and the
// inode of the resolved leaf. It fails if any component is missing or a
// non-terminal component is not a directory. On success the caller owns
// both returned handles and must close them; on failure nothing escapes.
func (t *Task) Verify(path string) (*Directory, *Inode, error) {
	dir, err := t.resolveStart(path)
	if err != nil {
		return nil, nil, err
	}

	part, rest, ok, err := nextPart(path)
	if err != nil {
		dir.Close()
		return nil, nil, err
	}
	if !ok {
		// Bare "/" (or a relative path that is all slashes): the walk
		// origin is itself both the parent and the resolved leaf.
		return dir, dir.ino.Reopen(), nil
	}

	for {
		nextName, nextRest, nok, nerr := nextPart(rest)
		if nerr != nil {
			dir.Close()
			return nil, nil, nerr
		}
		if !nok {
			leaf, err := dir.Lookup(part)
			if err != nil {
				dir.Close()
				return nil, nil, err
			}
			return dir, leaf, nil
		}

		child, err := dir.Lookup(part)
		if err != nil {
			dir.Close()
			return nil, nil, err
		}
		isDir, err := child.IsDir()
		if err != nil {
			child.Close()
			dir.Close()
			return nil, nil, err
		}
		if !isDir {
			child.Close()
			dir.Close()
			return nil, nil, ErrNotADirectory
		}
		dir.Close()
		dir = &Directory{fs: t.fs, ino: child}
		part, rest = nextName, nextRest
	}
}
