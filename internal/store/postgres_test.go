package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Get(t *testing.T) {
	t.Run("nominal", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(regexp.QuoteMeta(selectPayloadSQL)).
			WithArgs("key-1").
			WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow("1\netag\n{}"))

		got, err := NewPostgresStore(mock).Get(context.Background(), "key-1")
		require.NoError(t, err)
		assert.Equal(t, "1\netag\n{}", string(got))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absent", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(regexp.QuoteMeta(selectPayloadSQL)).
			WithArgs("key-1").
			WillReturnRows(pgxmock.NewRows([]string{"payload"}))

		got, err := NewPostgresStore(mock).Get(context.Background(), "key-1")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(regexp.QuoteMeta(selectPayloadSQL)).
			WithArgs("key-1").
			WillReturnError(assert.AnError)

		_, err = NewPostgresStore(mock).Get(context.Background(), "key-1")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Set(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO flagship_config_cache").
		WithArgs("key-1", "payload").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPostgresStore(mock).Set(context.Background(), "key-1", []byte("payload")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS flagship_config_cache").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, NewPostgresStore(mock).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
