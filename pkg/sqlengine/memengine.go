package sqlengine

import (
	"context"
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fallbackRNG backs random()/randomblob() when no deterministic RNG
// has been installed, e.g. an ad hoc Engine used outside the applier.
// Fixed-seeded so standalone engine tests stay reproducible, though
// not cross-replica deterministic — that guarantee only holds once
// the applier's SetRNG installs the real one.
var fallbackRNG = stdRNG{rand.New(rand.NewSource(1))}

type stdRNG struct{ r *rand.Rand }

func (s stdRNG) Int63() int64 { return s.r.Int63() }
func (s stdRNG) Bytes(n int) []byte {
	b := make([]byte, n)
	s.r.Read(b)
	return b
}

// memEngine is a minimal single-connection, single-table-at-a-time
// reference Engine: enough CREATE TABLE / INSERT / SELECT ... WHERE
// col = ? / UPDATE / DELETE to exercise the applier deterministically.
// It is not a query planner; statements are matched against a small
// fixed set of shapes via regexp, the same "good enough to drive the
// harness" scope as the reference row-store this is grounded on.
type memEngine struct {
	mu         sync.Mutex
	tables     map[string]*table
	clock      Clock
	rng        RNG
	configFunc ConfigFunc

	inTxn bool
	snap  map[string]*table // rollback point
}

// table's fields are exported so gob (Backup/Restore) can see them;
// the type itself stays unexported since nothing outside this package
// touches a table directly.
type table struct {
	Name string
	Cols []string
	Rows [][]Value
	Next int64 // next rowid, for LastInsert
}

func (t *table) clone() *table {
	c := &table{Name: t.Name, Cols: append([]string{}, t.Cols...), Next: t.Next}
	for _, r := range t.Rows {
		c.Rows = append(c.Rows, append(Row{}, r...))
	}
	return c
}

// New returns a fresh in-memory reference Engine.
func New() Engine {
	return &memEngine{tables: make(map[string]*table)}
}

func (e *memEngine) SetClock(c Clock)           { e.clock = c }
func (e *memEngine) SetRNG(r RNG)               { e.rng = r }
func (e *memEngine) SetConfigFunc(f ConfigFunc) { e.configFunc = f }

func (e *memEngine) Begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inTxn {
		return fmt.Errorf("sqlengine: nested transaction")
	}
	e.snap = make(map[string]*table, len(e.tables))
	for name, t := range e.tables {
		e.snap[name] = t.clone()
	}
	e.inTxn = true
	return nil
}

func (e *memEngine) Commit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inTxn = false
	e.snap = nil
	return nil
}

func (e *memEngine) Rollback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap != nil {
		e.tables = e.snap
	}
	e.inTxn = false
	e.snap = nil
	return nil
}

var (
	reCreate     = regexp.MustCompile(`(?is)^\s*CREATE TABLE\s+(\w+)\s*\(([^)]*)\)\s*$`)
	reInsert     = regexp.MustCompile(`(?is)^\s*INSERT INTO\s+(\w+)\s*\(([^)]*)\)\s*VALUES\s*\(([^)]*)\)\s*$`)
	reSelect     = regexp.MustCompile(`(?is)^\s*SELECT\s+(.+?)\s+FROM\s+(\w+)(?:\s+WHERE\s+(\w+)\s*=\s*(.+?))?\s*$`)
	reUpdate     = regexp.MustCompile(`(?is)^\s*UPDATE\s+(\w+)\s+SET\s+(.+?)(?:\s+WHERE\s+(\w+)\s*=\s*(.+?))?\s*$`)
	reDelete     = regexp.MustCompile(`(?is)^\s*DELETE FROM\s+(\w+)(?:\s+WHERE\s+(\w+)\s*=\s*(.+?))?\s*$`)
	reSelectExpr = regexp.MustCompile(`(?is)^\s*SELECT\s+(.+?)\s*$`)
	reFromWord   = regexp.MustCompile(`(?i)\bFROM\b`)
	reFuncCall   = regexp.MustCompile(`(?is)^(\w+)\s*\(\s*(.*?)\s*\)$`)
)

// isScalarSelect reports whether trimmed is a table-less SELECT of
// scalar expressions, e.g. "SELECT random(), randomblob(64)" or
// "SELECT resql('shutdown', '*')" — spec.md §4.7's deterministic
// builtins and config function, neither of which reads a table.
func isScalarSelect(trimmed string) bool {
	return reSelectExpr.MatchString(trimmed) && !reFromWord.MatchString(trimmed)
}

func (e *memEngine) Exec(ctx context.Context, sql string) error {
	st, err := e.Prepare(sql)
	if err != nil {
		return err
	}
	defer st.Finalize()
	_, err = st.Step(ctx)
	return err
}

func (e *memEngine) Prepare(sql string) (Stmt, error) {
	trimmed := strings.TrimSpace(sql)
	switch {
	case reCreate.MatchString(trimmed), reInsert.MatchString(trimmed),
		reSelect.MatchString(trimmed), reUpdate.MatchString(trimmed),
		reDelete.MatchString(trimmed), isScalarSelect(trimmed):
		return &memStmt{engine: e, sql: trimmed, named: make(map[string]Value), positional: make(map[int]Value)}, nil
	default:
		return nil, fmt.Errorf("sqlengine: unsupported statement shape: %s", trimmed)
	}
}

func (e *memEngine) Backup(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sqlengine: backup create: %w", err)
	}
	defer f.Close()
	ordered := make([]*table, 0, len(e.tables))
	for _, t := range e.tables {
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })
	return gob.NewEncoder(f).Encode(ordered)
}

func (e *memEngine) Restore(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("sqlengine: restore open: %w", err)
	}
	defer f.Close()
	var tables []*table
	if err := gob.NewDecoder(f).Decode(&tables); err != nil {
		return fmt.Errorf("sqlengine: restore decode: %w", err)
	}
	e.tables = make(map[string]*table, len(tables))
	for _, t := range tables {
		e.tables[t.Name] = t
	}
	return nil
}

func (e *memEngine) Close() error { return nil }

// memStmt is a prepared statement bound to one memEngine.
type memStmt struct {
	engine     *memEngine
	sql        string
	named      map[string]Value
	positional map[int]Value
}

func (s *memStmt) SQL() string { return s.sql }

func (s *memStmt) BindIndex(pos int, v Value) error {
	s.positional[pos] = v
	return nil
}

func (s *memStmt) BindName(name string, v Value) error {
	s.named[strings.TrimPrefix(name, ":")] = v
	return nil
}

func (s *memStmt) Reset() {
	s.named = make(map[string]Value)
	s.positional = make(map[int]Value)
}

func (s *memStmt) Finalize() error { return nil }

func (s *memStmt) arg(token string, posIdx *int) (Value, error) {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, ":") || strings.HasPrefix(token, "@") {
		v, ok := s.named[strings.TrimLeft(token, ":@")]
		if !ok {
			return Value{}, fmt.Errorf("sqlengine: unbound named parameter %s", token)
		}
		return v, nil
	}
	if token == "?" {
		*posIdx++
		v, ok := s.positional[*posIdx]
		if !ok {
			return Value{}, fmt.Errorf("sqlengine: unbound positional parameter %d", *posIdx)
		}
		return v, nil
	}
	return literal(token)
}

func literal(token string) (Value, error) {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "'") && strings.HasSuffix(token, "'") {
		return Value{Kind: KindText, Text: strings.Trim(token, "'")}, nil
	}
	if i, err := strconv.ParseInt(token, 10, 64); err == nil {
		return Value{Kind: KindInt, Int: i}, nil
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return Value{Kind: KindFloat, Flt: f}, nil
	}
	return Value{}, fmt.Errorf("sqlengine: cannot parse literal %q", token)
}

func (s *memStmt) Step(ctx context.Context) (Result, error) {
	e := s.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case reCreate.MatchString(s.sql):
		m := reCreate.FindStringSubmatch(s.sql)
		name, colsRaw := m[1], m[2]
		cols := splitCols(colsRaw)
		if _, exists := e.tables[name]; exists {
			return Result{}, fmt.Errorf("sqlengine: table %q already exists", name)
		}
		e.tables[name] = &table{Name: name, Cols: cols}
		return Result{}, nil

	case reInsert.MatchString(s.sql):
		m := reInsert.FindStringSubmatch(s.sql)
		name, colsRaw, valsRaw := m[1], m[2], m[3]
		t, ok := e.tables[name]
		if !ok {
			return Result{}, fmt.Errorf("sqlengine: no such table %q", name)
		}
		cols := splitCols(colsRaw)
		valTokens := splitCols(valsRaw)
		row := make(Row, len(t.Cols))
		posIdx := 0
		for i, c := range cols {
			v, err := s.arg(valTokens[i], &posIdx)
			if err != nil {
				return Result{}, err
			}
			idx := colIndex(t.Cols, c)
			if idx < 0 {
				return Result{}, fmt.Errorf("sqlengine: no such column %q on %q", c, name)
			}
			row[idx] = v
		}
		t.Rows = append(t.Rows, row)
		t.Next++
		return Result{Changed: 1, LastInsert: t.Next}, nil

	case reSelect.MatchString(s.sql):
		m := reSelect.FindStringSubmatch(s.sql)
		selCols, name, whereCol, whereVal := m[1], m[2], m[3], m[4]
		t, ok := e.tables[name]
		if !ok {
			return Result{}, fmt.Errorf("sqlengine: no such table %q", name)
		}
		outCols := t.Cols
		if strings.TrimSpace(selCols) != "*" {
			outCols = splitCols(selCols)
		}
		posIdx := 0
		var whereIdx = -1
		var want Value
		if whereCol != "" {
			whereIdx = colIndex(t.Cols, whereCol)
			var err error
			want, err = s.arg(whereVal, &posIdx)
			if err != nil {
				return Result{}, err
			}
		}
		var out []Row
		for _, r := range t.Rows {
			if whereIdx >= 0 && !valueEqual(r[whereIdx], want) {
				continue
			}
			projected := make(Row, len(outCols))
			for i, c := range outCols {
				idx := colIndex(t.Cols, c)
				if idx >= 0 {
					projected[i] = r[idx]
				}
			}
			out = append(out, projected)
		}
		return Result{Columns: Columns(outCols), Rows: out}, nil

	case isScalarSelect(s.sql):
		m := reSelectExpr.FindStringSubmatch(s.sql)
		exprs := splitTopLevel(m[1])
		cols := make(Columns, len(exprs))
		row := make(Row, len(exprs))
		posIdx := 0
		for i, expr := range exprs {
			v, label, err := s.evalScalar(expr, &posIdx)
			if err != nil {
				return Result{}, err
			}
			cols[i] = label
			row[i] = v
		}
		return Result{Columns: cols, Rows: []Row{row}}, nil

	case reUpdate.MatchString(s.sql):
		m := reUpdate.FindStringSubmatch(s.sql)
		name, setRaw, whereCol, whereVal := m[1], m[2], m[3], m[4]
		t, ok := e.tables[name]
		if !ok {
			return Result{}, fmt.Errorf("sqlengine: no such table %q", name)
		}
		posIdx := 0
		var whereIdx = -1
		var want Value
		if whereCol != "" {
			whereIdx = colIndex(t.Cols, whereCol)
			var err error
			want, err = s.arg(whereVal, &posIdx)
			if err != nil {
				return Result{}, err
			}
		}
		assigns := splitCols(setRaw)
		var changed int64
		for ri := range t.Rows {
			if whereIdx >= 0 && !valueEqual(t.Rows[ri][whereIdx], want) {
				continue
			}
			for _, a := range assigns {
				parts := strings.SplitN(a, "=", 2)
				if len(parts) != 2 {
					return Result{}, fmt.Errorf("sqlengine: malformed SET clause %q", a)
				}
				col := strings.TrimSpace(parts[0])
				v, err := s.arg(parts[1], &posIdx)
				if err != nil {
					return Result{}, err
				}
				idx := colIndex(t.Cols, col)
				if idx < 0 {
					return Result{}, fmt.Errorf("sqlengine: no such column %q on %q", col, name)
				}
				t.Rows[ri][idx] = v
			}
			changed++
		}
		return Result{Changed: changed}, nil

	case reDelete.MatchString(s.sql):
		m := reDelete.FindStringSubmatch(s.sql)
		name, whereCol, whereVal := m[1], m[2], m[3]
		t, ok := e.tables[name]
		if !ok {
			return Result{}, fmt.Errorf("sqlengine: no such table %q", name)
		}
		posIdx := 0
		var whereIdx = -1
		var want Value
		if whereCol != "" {
			whereIdx = colIndex(t.Cols, whereCol)
			var err error
			want, err = s.arg(whereVal, &posIdx)
			if err != nil {
				return Result{}, err
			}
		}
		var kept [][]Value
		var changed int64
		for _, r := range t.Rows {
			if whereIdx >= 0 && !valueEqual(r[whereIdx], want) {
				kept = append(kept, r)
				continue
			}
			changed++
		}
		t.Rows = kept
		return Result{Changed: changed}, nil
	}
	return Result{}, fmt.Errorf("sqlengine: unsupported statement: %s", s.sql)
}

func splitCols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		// CREATE TABLE column defs carry a type after the name
		// ("id INTEGER"); keep only the column name for this reference
		// engine's untyped row store.
		if fields := strings.Fields(p); len(fields) > 1 && !strings.Contains(p, "=") && !strings.ContainsAny(p, "'?:@") {
			p = fields[0]
		}
		out = append(out, p)
	}
	return out
}

// splitTopLevel splits raw on commas that are not nested inside
// parens or single-quoted strings, e.g. "random(), resql('a,b'), 1"
// yields ["random()", "resql('a,b')", "1"], unlike splitCols which
// splits blindly.
func splitTopLevel(raw string) []string {
	var out []string
	depth := 0
	inQuote := false
	start := 0
	for i, r := range raw {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case inQuote:
		case r == '(':
			depth++
		case r == ')':
			depth--
		case r == ',' && depth == 0:
			if p := strings.TrimSpace(raw[start:i]); p != "" {
				out = append(out, p)
			}
			start = i + 1
		}
	}
	if p := strings.TrimSpace(raw[start:]); p != "" {
		out = append(out, p)
	}
	return out
}

// evalScalar evaluates one table-less SELECT expression: a deterministic
// builtin (random/randomblob/datetime/CURRENT_TIMESTAMP), the resql()
// config function, a bound parameter, or a literal. It returns the
// value and the column label sqlite-style result sets use (the
// expression's own text).
func (s *memStmt) evalScalar(expr string, posIdx *int) (Value, string, error) {
	e := s.engine
	label := expr

	if strings.EqualFold(expr, "CURRENT_TIMESTAMP") {
		return Value{Kind: KindText, Text: e.nowText()}, label, nil
	}

	if m := reFuncCall.FindStringSubmatch(expr); m != nil {
		name := strings.ToLower(m[1])
		rawArgs := splitTopLevel(m[2])
		switch name {
		case "random":
			return Value{Kind: KindInt, Int: e.randInt63()}, label, nil
		case "randomblob":
			if len(rawArgs) != 1 {
				return Value{}, "", fmt.Errorf("sqlengine: randomblob() takes exactly one argument")
			}
			n, err := s.arg(rawArgs[0], posIdx)
			if err != nil {
				return Value{}, "", err
			}
			return Value{Kind: KindBlob, Blob: e.randBytes(int(n.Int))}, label, nil
		case "datetime":
			return Value{Kind: KindText, Text: e.nowText()}, label, nil
		case "resql":
			if len(rawArgs) != 2 {
				return Value{}, "", fmt.Errorf("sqlengine: resql(command, arg) takes exactly two arguments")
			}
			cmd, err := s.arg(rawArgs[0], posIdx)
			if err != nil {
				return Value{}, "", err
			}
			val, err := s.arg(rawArgs[1], posIdx)
			if err != nil {
				return Value{}, "", err
			}
			if e.configFunc == nil {
				return Value{}, "", fmt.Errorf("sqlengine: resql() config function is not registered")
			}
			if err := e.configFunc(cmd.Text, val.Text); err != nil {
				return Value{}, "", fmt.Errorf("sqlengine: resql(%s): %w", cmd.Text, err)
			}
			return Value{Kind: KindInt, Int: 1}, label, nil
		default:
			return Value{}, "", fmt.Errorf("sqlengine: unsupported function %s()", m[1])
		}
	}

	v, err := s.arg(expr, posIdx)
	return v, label, err
}

// nowText formats the installed Clock's realtime seconds the way
// sqlite's datetime()/CURRENT_TIMESTAMP do: "YYYY-MM-DD HH:MM:SS" UTC.
// Falls back to the wall clock if no deterministic Clock was installed,
// which only happens outside the applier (e.g. ad hoc engine tests).
func (e *memEngine) nowText() string {
	realtime := time.Now().Unix()
	if e.clock != nil {
		realtime, _ = e.clock.Now()
	}
	return time.Unix(realtime, 0).UTC().Format("2006-01-02 15:04:05")
}

func (e *memEngine) randInt63() int64 {
	if e.rng != nil {
		return e.rng.Int63()
	}
	return fallbackRNG.Int63()
}

func (e *memEngine) randBytes(n int) []byte {
	if e.rng != nil {
		return e.rng.Bytes(n)
	}
	return fallbackRNG.Bytes(n)
}

func colIndex(cols []string, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func valueEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		// allow int/float cross-comparison for convenience.
		if a.Kind == KindInt && b.Kind == KindFloat {
			return float64(a.Int) == b.Flt
		}
		if a.Kind == KindFloat && b.Kind == KindInt {
			return a.Flt == float64(b.Int)
		}
		return false
	}
	switch a.Kind {
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Flt == b.Flt
	case KindText:
		return a.Text == b.Text
	case KindBlob:
		return string(a.Blob) == string(b.Blob)
	default:
		return true
	}
}
