package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/errs"
)

func TestEnumRejectsEmptyDuplicateAndOversizedVariants(t *testing.T) {
	_, err := Enum(nil)
	require.Error(t, err)

	_, err = Enum([]string{"US", ""})
	require.Error(t, err)

	_, err = Enum([]string{"US", "US"})
	require.Error(t, err)

	variants := make([]string, MaxEnumVariants+1)
	for i := range variants {
		variants[i] = string(rune('a' + i%26))
	}
	_, err = Enum(variants)
	require.Error(t, err)

	ft, err := Enum([]string{"US", "DE"})
	require.NoError(t, err)
	require.Equal(t, 0, ft.VariantIndex("US"))
	require.Equal(t, 1, ft.VariantIndex("DE"))
	require.Equal(t, -1, ft.VariantIndex("FR"))
}

func TestFieldTypeIsTemporal(t *testing.T) {
	require.True(t, Timestamp().IsTemporal())
	require.True(t, Date().IsTemporal())
	require.False(t, String().IsTemporal())
}

func TestMiniSchemaValidateRejectsEmpty(t *testing.T) {
	require.Error(t, MiniSchema{}.Validate())
	require.NoError(t, MiniSchema{"a": String()}.Validate())
}

func TestRegistryDefineLookupAndConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.db")
	reg, err := Open(path)
	require.NoError(t, err)

	uid, err := reg.Define("order", MiniSchema{"country": String()})
	require.NoError(t, err)
	require.Len(t, uid, UIDLength)

	rec, ok := reg.Lookup("order")
	require.True(t, ok)
	require.Equal(t, uid, rec.UID)

	byUID, ok := reg.LookupUID(uid)
	require.True(t, ok)
	require.Equal(t, "order", byUID.EventType)

	_, err = reg.Define("order", MiniSchema{"country": String()})
	require.ErrorIs(t, err, errs.ErrSchemaConflict)

	require.Equal(t, []string{"order"}, reg.EventTypes())
}

func TestRegistryDefineRejectsEmptyEventTypeOrSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.db")
	reg, err := Open(path)
	require.NoError(t, err)

	_, err = reg.Define("", MiniSchema{"a": String()})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = reg.Define("order", MiniSchema{})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestRegistryPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.db")
	reg, err := Open(path)
	require.NoError(t, err)
	uid, err := reg.Define("order", MiniSchema{"country": String()})
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)
	rec, ok := reopened.Lookup("order")
	require.True(t, ok)
	require.Equal(t, uid, rec.UID)
}

func TestLoadTruncatesAtCorruptTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.db")
	reg, err := Open(path)
	require.NoError(t, err)
	_, err = reg.Define("order", MiniSchema{"country": String()})
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF, 0xFF, 0xFF, 0x7F, 0, 0, 0, 0, 1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, truncated, err := Load(path)
	require.NoError(t, err)
	require.True(t, truncated)
	require.Len(t, records, 1)
	require.Equal(t, "order", records[0].EventType)
}
