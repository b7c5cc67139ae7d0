package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/compras-etl/internal/config"
	"github.com/Sternrassler/compras-etl/internal/testutil"
	"github.com/Sternrassler/compras-etl/pkg/endpoint"
	"github.com/Sternrassler/compras-etl/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractRow(id, date, unit, body, supplier string) map[string]any {
	return map[string]any{
		"idCompra":                       id,
		"dataVigenciaInicial":            date,
		"codigoUnidadeRealizadoraCompra": unit,
		"codigoOrgao":                    body,
		"niFornecedor":                   supplier,
	}
}

func setupMock(t *testing.T) *testutil.MockAPI {
	t.Helper()
	mock := testutil.NewMockAPI()
	t.Cleanup(mock.Close)

	mock.SetRoute(endpoint.Contracts.Path, testutil.Route{
		Records: []map[string]any{
			contractRow("c1", "2024-01-10", "150001", "26000", "12.345.678/0001-90"),
			contractRow("c2", "2024-02-01T00:00:00", "150001", "26001", "123.456.789-01"),
			contractRow("c3", "2024-03-05", "150009", "26009", "11111111111"),
			contractRow("c4", "2024-05-01", "150002", "26000", "nan"),
			contractRow("c5", "2024-11-11", " 150003", "", "98765432000110"),
		},
		RangeField:    "dataVigenciaInicial",
		RangeMinParam: "dataVigenciaInicialMin",
		RangeMaxParam: "dataVigenciaInicialMax",
	})
	mock.SetRoute(endpoint.Units.Path, testutil.Route{
		Records: []map[string]any{
			{"codigoUasg": "150001", "nomeUasg": "UASG 1"},
			{"codigoUasg": "150002", "nomeUasg": "UASG 2"},
			{"codigoUasg": "150003", "nomeUasg": "UASG 3"},
			{"codigoUasg": "999999", "nomeUasg": "Other"},
		},
		Match: map[string]string{"codigoUasg": "codigoUasg"},
	})
	mock.SetRoute(endpoint.Bodies.Path, testutil.Route{
		Records: []map[string]any{
			{"codigoOrgao": "26000", "nomeOrgao": "Body 26000"},
			{"codigoOrgao": "26001", "nomeOrgao": "Body 26001"},
			{"codigoOrgao": "26002", "nomeOrgao": "Body 26002"},
		},
		Match: map[string]string{"codigoOrgao": "codigoOrgao"},
	})
	mock.SetRoute(endpoint.Suppliers.Path, testutil.Route{
		Records: []map[string]any{
			{"cpf": "12345678901", "nome": "Person"},
			{"cnpj": "12345678000190", "nome": "Company A"},
			{"cnpj": "98765432000110", "nome": "Company B"},
		},
		Match: map[string]string{"cpf": "cpf", "cnpj": "cnpj"},
	})
	return mock
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		API: config.APIConfig{
			BaseURL:    baseURL,
			UserAgent:  "compras-etl-test",
			Timeout:    5 * time.Second,
			MaxRetries: 3,
		},
		Extract: config.ExtractConfig{
			Year:                2024,
			ContractsPerQuarter: 2,
			ResolveRelated:      true,
		},
		Output: config.OutputConfig{
			RawDir:       filepath.Join(dir, "raw"),
			ProcessedDir: filepath.Join(dir, "processed"),
			Format:       "csv",
		},
		Cache: config.CacheConfig{TTL: time.Hour},
		Log:   config.LogConfig{Level: logging.LevelInfo},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func column(rows [][]string, name string) []string {
	idx := -1
	for i, h := range rows[0] {
		if h == name {
			idx = i
		}
	}
	var out []string
	for _, r := range rows[1:] {
		if idx >= 0 {
			out = append(out, r[idx])
		}
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	mock := setupMock(t)
	cfg := testConfig(t, mock.URL())
	cfg.Extract.UnitCatalogLimit = 2

	p, err := Wire(cfg, nil)
	require.NoError(t, err)

	sum, err := p.Run(context.Background())
	require.NoError(t, err)

	// Q1 truncated to 2, Q2 one, Q3 none, Q4 one
	assert.Equal(t, 4, sum.Contracts)
	require.Len(t, sum.Windows, 4)
	assert.Equal(t, []int{2, 1, 0, 1}, []int{sum.Windows[0].Records, sum.Windows[1].Records, sum.Windows[2].Records, sum.Windows[3].Records})

	assert.Equal(t, 2, sum.Complete)
	assert.Equal(t, 2, sum.UnitCatalog)
	assert.Zero(t, sum.BodyCatalog)
	assert.Equal(t, 3, sum.Units)
	assert.Equal(t, 2, sum.Bodies)
	assert.Equal(t, 3, sum.Suppliers)
	assert.Zero(t, sum.Lookups.Total())

	raw := readCSV(t, sum.Files[NameContractSample])
	assert.Equal(t, []string{"c1", "c2", "c4", "c5"}, column(raw, "idCompra"))
	assert.Equal(t, filepath.Join(cfg.Output.RawDir, "contratos_amostra_"+time.Now().Format("2006-01-02")+".csv"), sum.Files[NameContractSample])

	clean := readCSV(t, sum.Files[NameCleanContracts])
	assert.True(t, strings.HasPrefix(sum.Files[NameCleanContracts], cfg.Output.ProcessedDir))
	assert.Equal(t, []string{"12345678000190", "12345678901", "", "98765432000110"}, column(clean, "niFornecedor"))
	assert.Equal(t, []string{"150001", "150001", "150002", "150003"}, column(clean, "codigoUnidadeRealizadoraCompra"))

	assert.Len(t, readCSV(t, sum.Files[NameUnits]), 4)
	assert.Len(t, readCSV(t, sum.Files[NameBodies]), 3)
	assert.Len(t, readCSV(t, sum.Files[NameSuppliers]), 4)
	assert.Len(t, readCSV(t, sum.Files[NameUnitCatalog]), 3)
	assert.NotContains(t, sum.Files, NameBodyCatalog)

	// one batched unit request plus the catalog sweep
	units := mock.Requests(endpoint.Units.Path)
	require.Len(t, units, 2)
	assert.Equal(t, "150001,150002,150003", units[1].Get("codigoUasg"))

	for _, q := range mock.Requests(endpoint.Contracts.Path) {
		assert.Equal(t, "500", q.Get("tamanhoPagina"))
		assert.Equal(t, "1", q.Get("pagina"))
	}
}

func TestRun_LookupFailuresAreTallied(t *testing.T) {
	mock := setupMock(t)
	mock.FailNext(endpoint.Bodies.Path, 3, http.StatusServiceUnavailable)

	p, err := Wire(testConfig(t, mock.URL()), nil)
	require.NoError(t, err)

	sum, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Lookups.Bodies)
	assert.Equal(t, 1, sum.Bodies)
	assert.Equal(t, 3, sum.Suppliers, "later lookups still run")
}

func TestRun_WithoutRelated(t *testing.T) {
	mock := setupMock(t)
	cfg := testConfig(t, mock.URL())
	cfg.Extract.ResolveRelated = false

	p, err := Wire(cfg, nil)
	require.NoError(t, err)

	sum, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, sum.Files, 2)
	assert.Empty(t, mock.Requests(endpoint.Units.Path))
	assert.Empty(t, mock.Requests(endpoint.Suppliers.Path))
}

func TestRun_NoContracts(t *testing.T) {
	mock := setupMock(t)
	mock.SetRoute(endpoint.Contracts.Path, testutil.Route{})

	p, err := Wire(testConfig(t, mock.URL()), nil)
	require.NoError(t, err)

	sum, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, sum.Contracts)
	assert.Empty(t, sum.Files, "empty sets are not written")
	assert.Equal(t, 4, len(mock.Requests(endpoint.Contracts.Path)))
	assert.Zero(t, mock.RequestCount()-4, "no lookups without contracts")
}

func TestRun_Cancelled(t *testing.T) {
	mock := setupMock(t)
	cfg := testConfig(t, mock.URL())

	p, err := Wire(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.Empty(t, sum.Files)

	_, statErr := os.Stat(cfg.Output.RawDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWire_InvalidFormat(t *testing.T) {
	cfg := testConfig(t, "http://localhost/")
	cfg.Output.Format = "parquet"

	_, err := Wire(cfg, nil)
	assert.Error(t, err)
}

func TestSummary_Log(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf)

	sum := &Summary{Contracts: 7, Files: map[string]string{"contratos_amostra": "data/raw/contratos_amostra_2024-07-03.csv"}}
	sum.Log(logger)

	out := buf.String()
	assert.Contains(t, out, `"contracts":7`)
	assert.Contains(t, out, `"contratos_amostra":"data/raw/contratos_amostra_2024-07-03.csv"`)
	assert.Contains(t, out, "Extraction summary")
}
