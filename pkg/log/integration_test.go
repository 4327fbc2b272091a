package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mariiabilous/besca/pkg/errors"
)

func TestTestLogger(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", OperationKey, OperationRead)
	testLogger.Warn("warning message", ErrorCodeKey, ErrorConvergence)
	testLogger.Error("error message", fmt.Errorf("boom"), ClassifierKindKey, "rbf_svm")

	if buffer.Len() == 0 {
		t.Fatal("Expected log output, got empty buffer")
	}
	for _, msg := range []string{"debug message", "info message", "warning message", "error message"} {
		if !testLogger.ContainsMessage(msg) {
			t.Errorf("%q not found in output", msg)
		}
	}
	if !testLogger.ContainsField("number", 42.0) {
		t.Error("Expected field number=42 not found")
	}
	if !testLogger.ContainsField(ErrAttrKey, "boom") {
		t.Error("leading error should be recorded under the error key")
	}
	if !testLogger.ContainsField(ClassifierKindKey, "rbf_svm") {
		t.Error("fields after the leading error should be kept")
	}
}

func TestTestLoggerWithAndLevel(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)

	ctxLogger := testLogger.With(ModelIDKey, "m-1", ComponentKey, "annotate")
	ctxLogger.Info("fit finished", SamplesKey, 100)
	ctxLogger.Debug("hidden")

	if !testLogger.ContainsField(ModelIDKey, "m-1") {
		t.Error("context field missing")
	}
	if testLogger.ContainsMessage("hidden") {
		t.Error("debug entry should be filtered at info level")
	}
	if testLogger.Enabled(context.Background(), LevelDebug) {
		t.Error("debug should be disabled")
	}
}

func TestTestLoggerProvider(t *testing.T) {
	provider, captured := NewTestLoggerProvider(LevelDebug)
	SetProvider(provider)
	defer SetProvider(NewZerologProvider(zerolog.Nop()))

	GetLoggerWithName("merge").Info("merged", MergeStrategyKey, "naive")

	if !captured.ContainsField(ComponentKey, "merge") {
		t.Error("component name not found")
	}
	if !captured.ContainsField(MergeStrategyKey, "naive") {
		t.Error("strategy field not found")
	}
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	provider := NewZerologProvider(zerolog.New(&buf))
	provider.SetLevel(LevelInfo)

	logger := provider.GetLoggerWithName("loader").With(PathKey, "expr.csv")
	logger.Debug("skipped")
	logger.Info("read dataset", SamplesKey, 3, GenesKey, 4)
	logger.Error("read failed", errors.NewMalformedInputError("expr.csv", "ragged row"), "line", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries, got %d: %s", len(lines), buf.String())
	}

	var info map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &info); err != nil {
		t.Fatal(err)
	}
	if info[ComponentKey] != "loader" || info[PathKey] != "expr.csv" || info[GenesKey] != 4.0 {
		t.Errorf("unexpected info entry: %v", info)
	}

	var errEntry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &errEntry); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(fmt.Sprint(errEntry["error"]), "ragged row") {
		t.Errorf("error not recorded: %v", errEntry)
	}
	if errEntry["line"] != 7.0 {
		t.Errorf("trailing field not recorded: %v", errEntry)
	}

	if logger.Enabled(context.Background(), LevelDebug) {
		t.Error("debug should be disabled at info level")
	}
}

func TestSetupLogger(t *testing.T) {
	defer SetProvider(NewZerologProvider(zerolog.Nop()))
	defer errors.SetZerologWarnFunc(nil)

	var buf bytes.Buffer
	if err := SetupLogger(&buf, "warn"); err != nil {
		t.Fatal(err)
	}

	GetLogger().Info("dropped")
	errors.Warn(errors.NewConvergenceWarning("SGDClassifier", 5, ""))
	slog.Error("slog entry", ErrAttr(errors.NewValueError("fit", "bad")))

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(out, `"type":"ConvergenceWarning"`) {
		t.Errorf("warning not routed through zerolog: %s", out)
	}
	if !strings.Contains(out, `"stacktrace"`) {
		t.Errorf("slog error entry should carry a stacktrace: %s", out)
	}

	buf.Reset()
	slog.Error("predict failed", ErrAttr(errors.Wrap(errors.NewGeneMismatchError([]string{"LYZ"}, 3, 2), "annotate")))
	if !strings.Contains(buf.String(), `"error.code":"GENE_MISMATCH"`) {
		t.Errorf("typed error should carry its code: %s", buf.String())
	}

	if err := SetupLogger(&buf, "verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestConcurrentLogging(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)

	const goroutines, perGoroutine = 4, 25
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l := testLogger.With("worker", id)
			for j := 0; j < perGoroutine; j++ {
				l.Info("tree built", "tree", j)
			}
		}(i)
	}
	wg.Wait()

	entries, err := testLogger.GetLogEntries()
	if err != nil {
		t.Fatalf("Failed to parse log entries: %v", err)
	}
	if len(entries) != goroutines*perGoroutine {
		t.Errorf("expected %d entries, got %d", goroutines*perGoroutine, len(entries))
	}
}

func BenchmarkZerologLogger(b *testing.B) {
	logger := NewZerologLogger(zerolog.Nop())
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark", OperationKey, OperationPredict, SamplesKey, 1000)
	}
}
