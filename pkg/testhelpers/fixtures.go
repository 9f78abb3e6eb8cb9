package testhelpers

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vardalab/varda-engine/pkg/models"
)

// CreateUser stores a user with the given roles. The password is the login
// (hashed at bcrypt.MinCost to keep tests fast).
func CreateUser(t *testing.T, users *Users, login string, roles ...string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(login), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{
		Login:        login,
		Name:         login,
		PasswordHash: string(hash),
		Roles:        roles,
	}
	require.NoError(t, users.Create(context.Background(), user))
	return user
}

// CreateSample stores a sample owned by the given user.
func CreateSample(t *testing.T, samples *Samples, owner *models.User, name string) *models.Sample {
	t.Helper()
	sample := &models.Sample{UserID: owner.ID, Name: name, PoolSize: 1}
	require.NoError(t, samples.Create(context.Background(), sample))
	return sample
}

// CreateDataSource stores a data source record owned by the given user and
// its backing blob content.
func CreateDataSource(t *testing.T, dataSources *DataSources, blobs *Blobs, owner *models.User, filetype string, content []byte) *models.DataSource {
	t.Helper()
	ds := &models.DataSource{
		UserID:   owner.ID,
		Name:     "test " + filetype,
		Filetype: filetype,
		Filename: "blob-" + filetype,
	}
	require.NoError(t, dataSources.Create(context.Background(), ds))
	ds.Filename = ds.Filename + "-" + strconv.FormatInt(ds.ID, 10)
	require.NoError(t, dataSources.Update(context.Background(), ds))
	if blobs != nil {
		blobs.Put(ds.Filename, content)
	}
	return ds
}
