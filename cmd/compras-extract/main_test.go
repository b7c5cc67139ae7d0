package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/compras-etl/internal/testutil"
	"github.com/Sternrassler/compras-etl/pkg/endpoint"
)

func setEnv(t *testing.T, baseURL, dir string) {
	t.Helper()
	t.Setenv("COMPRAS_BASE_URL", baseURL)
	t.Setenv("COMPRAS_OUTPUT_DIR", filepath.Join(dir, "raw"))
	t.Setenv("COMPRAS_PROCESSED_DIR", filepath.Join(dir, "processed"))
	t.Setenv("COMPRAS_METRICS_FILE", filepath.Join(dir, "metrics", "compras.prom"))
	t.Setenv("COMPRAS_BACKOFF_UNIT", "0s")
	t.Setenv("COMPRAS_PAGE_DELAY", "0s")
	t.Setenv("COMPRAS_LOOKUP_DELAY", "0s")
	t.Setenv("COMPRAS_CONTRACTS_PER_QUARTER", "10")
	t.Setenv("COMPRAS_REDIS_ADDR", "")
}

func TestRun(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetRoute(endpoint.Contracts.Path, testutil.Route{
		Records: []map[string]any{
			{"dataVigenciaInicial": "2024-02-02", "codigoUnidadeRealizadoraCompra": "150001", "codigoOrgao": "26000", "niFornecedor": "111"},
		},
		RangeField:    "dataVigenciaInicial",
		RangeMinParam: "dataVigenciaInicialMin",
		RangeMaxParam: "dataVigenciaInicialMax",
	})
	mock.SetRoute(endpoint.Units.Path, testutil.Route{
		Records: []map[string]any{{"codigoUasg": "150001"}},
		Match:   map[string]string{"codigoUasg": "codigoUasg"},
	})
	mock.SetRoute(endpoint.Bodies.Path, testutil.Route{
		Records: []map[string]any{{"codigoOrgao": "26000"}},
		Match:   map[string]string{"codigoOrgao": "codigoOrgao"},
	})
	mock.SetRoute(endpoint.Suppliers.Path, testutil.Route{
		Records: []map[string]any{{"cpf": "111"}},
		Match:   map[string]string{"cpf": "cpf"},
	})

	dir := t.TempDir()
	setEnv(t, mock.URL(), dir)

	if err := run(context.Background()); err != nil {
		t.Fatalf("run() failed: %v", err)
	}

	for _, sub := range []string{"raw", "processed"} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if err != nil {
			t.Fatalf("read %s: %v", sub, err)
		}
		if len(entries) == 0 {
			t.Errorf("no files written to %s", sub)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "metrics", "compras.prom"))
	if err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
	if !strings.Contains(string(data), "compras_sweeps_total") {
		t.Error("metrics textfile should contain sweep counters")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("COMPRAS_YEAR", "1990")

	if err := run(context.Background()); err == nil {
		t.Fatal("expected configuration error")
	}
}
