package filequeue

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const committedSuffix = ".committed"

// Queue is an on-disk list of captured messages. Each entry is a file named
// <id>.committed holding a msgp Record with the message bytes and a metadata map.
type Queue struct {
	mut       sync.Mutex
	directory string
	maxID     int
	fs        FileSystem
	logger    log.Logger
}

// NewQueue opens directory, creating it when needed, and continues numbering after the highest existing id.
func NewQueue(directory string, fs FileSystem, logger log.Logger) (*Queue, error) {
	if fs == nil {
		fs = NewDiskFS()
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	err := fs.MkdirAll(directory, 0777)
	if err != nil {
		return nil, err
	}
	q := &Queue{
		directory: directory,
		fs:        fs,
		logger:    log.With(logger, "component", "filequeue", "directory", directory),
	}
	ids, err := q.ids()
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		q.maxID = ids[len(ids)-1]
	}
	return q, nil
}

// ids returns the ids of every committed file in ascending order.
func (q *Queue) ids() ([]int, error) {
	// Only committed files are read so stray files in the directory are ignored.
	matches, err := q.fs.Glob(filepath.Join(q.directory, "*"+committedSuffix))
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(matches))
	// e.g. grab 1 from `1.committed`
	for _, fileName := range matches {
		id, err := strconv.Atoi(strings.TrimSuffix(filepath.Base(fileName), committedSuffix))
		if err != nil {
			level.Warn(q.logger).Log("msg", "unable to convert numeric prefix for committed file", "err", err, "file", fileName)
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (q *Queue) name(id int) string {
	return filepath.Join(q.directory, fmt.Sprintf("%d%s", id, committedSuffix))
}

// Store adds data as the next committed file and returns its name.
func (q *Queue) Store(meta map[string]string, data []byte) (string, error) {
	q.mut.Lock()
	defer q.mut.Unlock()

	if meta == nil {
		meta = make(map[string]string)
	}
	r := &Record{
		Meta: meta,
		Data: data,
	}
	rBuf, err := r.MarshalMsg(nil)
	if err != nil {
		return "", err
	}
	q.maxID++
	name := q.name(q.maxID)
	err = q.fs.WriteFile(name, rBuf, 0644)
	if err != nil {
		return "", err
	}
	return name, nil
}

// Files lists committed files oldest first.
func (q *Queue) Files() ([]string, error) {
	q.mut.Lock()
	defer q.mut.Unlock()

	ids, err := q.ids()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = q.name(id)
	}
	return names, nil
}

// Get returns the metadata and data stored in name.
func (q *Queue) Get(name string) (map[string]string, []byte, error) {
	buf, err := q.fs.ReadFile(name)
	if err != nil {
		return nil, nil, err
	}
	r := &Record{}
	_, err = r.UnmarshalMsg(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return r.Meta, r.Data, nil
}

// Pop is Get followed by removing the file, even when it could not be decoded.
func (q *Queue) Pop(name string) (map[string]string, []byte, error) {
	defer q.deleteFile(name)
	return q.Get(name)
}

func (q *Queue) deleteFile(name string) {
	err := q.fs.Remove(name)
	if err != nil {
		level.Error(q.logger).Log("msg", "unable to delete file", "err", err, "file", name)
	}
}
