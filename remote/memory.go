package remote

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRootID is the id of the memory backend's root folder
const MemoryRootID = "root"

// OpKind names a backend primitive, for call logs and fault injection
type OpKind string

const (
	OpFindFolder    OpKind = "find_folder"
	OpListFolders   OpKind = "list_folders"
	OpCreateFolder  OpKind = "create_folder"
	OpCreateFolders OpKind = "create_folders"
	OpFindFile      OpKind = "find_file"
	OpCreateFile    OpKind = "create_file"
)

// Call is one recorded backend invocation
type Call struct {
	Seq      int
	Op       OpKind
	Name     string
	ParentID string
}

// Fault is returned by a FaultFunc to make an operation fail
type Fault struct {
	Err error
	// Applied makes the operation take effect before Err is reported,
	// like a request whose response was lost.
	Applied bool
}

// FaultFunc decides per call whether to inject a failure; nil means no fault
type FaultFunc func(op OpKind, name, parentID string) *Fault

// MemoryObject is a folder or file held by the memory backend
type MemoryObject struct {
	ID       string
	Name     string
	ParentID string
	Folder   bool
	Size     int64
	Content  []byte
	Created  time.Time
	seq      int
}

// MemoryBackend is an in-process hierarchical store. It backs dry runs and benchmarks,
// and records every call so tests can assert on ordering.
type MemoryBackend struct {
	mu      sync.Mutex
	objects map[string]*MemoryObject
	calls   []Call
	seq     int
	fault   FaultFunc
	latency time.Duration
	keep    bool
}

var (
	_ Backend            = (*MemoryBackend)(nil)
	_ BatchFolderCreator = (*MemoryBackend)(nil)
)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string]*MemoryObject)}
}

// WithLatency delays every call by d, simulating a network round trip
func (m *MemoryBackend) WithLatency(d time.Duration) *MemoryBackend {
	m.latency = d
	return m
}

// KeepContent stores uploaded bytes so tests can compare them
func (m *MemoryBackend) KeepContent() *MemoryBackend {
	m.keep = true
	return m
}

// SetFault installs fn as the fault injector
func (m *MemoryBackend) SetFault(fn FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Close() error { return nil }

func (m *MemoryBackend) RootID(ctx context.Context) (string, error) {
	return MemoryRootID, nil
}

// begin records the call and reports the fault to apply, if any
func (m *MemoryBackend) begin(ctx context.Context, op OpKind, name, parentID string) (*Fault, error) {
	if m.latency > 0 {
		if err := sleepContext(ctx, m.latency); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.calls = append(m.calls, Call{Seq: m.seq, Op: op, Name: name, ParentID: parentID})
	if m.fault == nil {
		return nil, nil
	}
	return m.fault(op, name, parentID), nil
}

func (m *MemoryBackend) parentExists(parentID string) bool {
	if parentID == MemoryRootID {
		return true
	}
	obj, ok := m.objects[parentID]
	return ok && obj.Folder
}

// find returns the oldest matching child
func (m *MemoryBackend) find(name, parentID string, folder bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *MemoryObject
	for _, obj := range m.objects {
		if obj.ParentID != parentID || obj.Name != name || obj.Folder != folder {
			continue
		}
		if best == nil || obj.seq < best.seq {
			best = obj
		}
	}
	if best == nil {
		return "", ErrNotFound
	}
	return best.ID, nil
}

func (m *MemoryBackend) add(obj *MemoryObject) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.parentExists(obj.ParentID) {
		return "", fmt.Errorf("parent %s does not exist", obj.ParentID)
	}
	m.seq++
	obj.ID = uuid.NewString()
	obj.Created = time.Now()
	obj.seq = m.seq
	m.objects[obj.ID] = obj
	return obj.ID, nil
}

func (m *MemoryBackend) FindFolder(ctx context.Context, name, parentID string) (string, error) {
	fault, err := m.begin(ctx, OpFindFolder, name, parentID)
	if err != nil {
		return "", err
	}
	if fault != nil {
		return "", fault.Err
	}
	return m.find(name, parentID, true)
}

func (m *MemoryBackend) ListFolders(ctx context.Context, parentID string) (map[string]string, error) {
	fault, err := m.begin(ctx, OpListFolders, "", parentID)
	if err != nil {
		return nil, err
	}
	if fault != nil {
		return nil, fault.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	children := make([]*MemoryObject, 0)
	for _, obj := range m.objects {
		if obj.ParentID == parentID && obj.Folder {
			children = append(children, obj)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].seq < children[j].seq })

	out := make(map[string]string, len(children))
	for _, obj := range children {
		if _, ok := out[obj.Name]; !ok {
			out[obj.Name] = obj.ID
		}
	}
	return out, nil
}

func (m *MemoryBackend) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	fault, err := m.begin(ctx, OpCreateFolder, name, parentID)
	if err != nil {
		return "", err
	}
	if fault != nil && !fault.Applied {
		return "", fault.Err
	}
	id, err := m.add(&MemoryObject{Name: name, ParentID: parentID, Folder: true})
	if err != nil {
		return "", err
	}
	if fault != nil {
		return "", fault.Err
	}
	return id, nil
}

// CreateFolders creates each name in order; a fault on one name leaves the rest untouched
func (m *MemoryBackend) CreateFolders(ctx context.Context, parentID string, names []string) (map[string]string, error) {
	fault, err := m.begin(ctx, OpCreateFolders, fmt.Sprintf("%d folders", len(names)), parentID)
	if err != nil {
		return nil, err
	}
	if fault != nil && !fault.Applied {
		return nil, fault.Err
	}

	created := make(map[string]string, len(names))
	for _, name := range names {
		id, err := m.add(&MemoryObject{Name: name, ParentID: parentID, Folder: true})
		if err != nil {
			return created, err
		}
		created[name] = id
	}
	if fault != nil {
		// applied but the response was lost
		return nil, fault.Err
	}
	return created, nil
}

func (m *MemoryBackend) FindFile(ctx context.Context, name, parentID string) (string, error) {
	fault, err := m.begin(ctx, OpFindFile, name, parentID)
	if err != nil {
		return "", err
	}
	if fault != nil {
		return "", fault.Err
	}
	return m.find(name, parentID, false)
}

func (m *MemoryBackend) CreateFile(ctx context.Context, req FileRequest) (string, error) {
	fault, err := m.begin(ctx, OpCreateFile, req.Name, req.ParentID)
	if err != nil {
		return "", err
	}
	if fault != nil && !fault.Applied {
		return "", fault.Err
	}

	obj := &MemoryObject{Name: req.Name, ParentID: req.ParentID}
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return "", Transient(err)
		}
		obj.Size = int64(len(data))
		if m.keep {
			obj.Content = data
		}
	}
	id, err := m.add(obj)
	if err != nil {
		return "", err
	}
	if fault != nil {
		return "", fault.Err
	}
	return id, nil
}

// Calls returns a copy of the call log
func (m *MemoryBackend) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CountCalls returns how many calls of the given kinds were made
func (m *MemoryBackend) CountCalls(ops ...OpKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		for _, op := range ops {
			if c.Op == op {
				n++
			}
		}
	}
	return n
}

// ResetCalls clears the call log
func (m *MemoryBackend) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Children returns the objects directly under parentID, oldest first
func (m *MemoryBackend) Children(parentID string) []MemoryObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MemoryObject
	for _, obj := range m.objects {
		if obj.ParentID == parentID {
			out = append(out, *obj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Lookup returns a copy of the object with the given id
func (m *MemoryBackend) Lookup(id string) (MemoryObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[id]
	if !ok {
		return MemoryObject{}, false
	}
	return *obj, true
}

// Len returns the number of stored objects
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
