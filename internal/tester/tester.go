package tester

import (
	"os"

	"github.com/emrgen/docsearch/internal/blob"
	"github.com/emrgen/docsearch/internal/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testPath = "../../.test/"
)

var (
	db *gorm.DB
)

// Setup provisions a throwaway sqlite database under .test/. Vector search
// needs postgres and is exercised through fakes; everything else in the
// store runs against sqlite.
func Setup() {
	RemoveTestDir()

	_ = os.Setenv("ENV", "test")

	err := os.MkdirAll(testPath+"db", os.ModePerm)
	if err != nil {
		panic(err)
	}

	db, err = gorm.Open(sqlite.Open(testPath+"db/docsearch.db"), &gorm.Config{})
	if err != nil {
		panic(err)
	}

	err = model.Migrate(db)
	if err != nil {
		panic(err)
	}
}

func TestDB() *gorm.DB {
	return db
}

// BlobStore returns a filesystem blob store rooted under .test/.
func BlobStore() blob.Store {
	store, err := blob.NewFSStore(testPath + "blobs")
	if err != nil {
		panic(err)
	}

	return store
}

func RemoveTestDir() {
	err := os.RemoveAll(testPath)
	if err != nil {
		panic(err)
	}
}
