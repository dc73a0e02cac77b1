package repository

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/urban-engineer/sved/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:?_pragma=foreign_keys(ON)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.File{},
		&models.Profile{},
		&models.EncodeTask{},
		&models.MetricTask{},
		&models.Frame{},
		&models.PooledPSNR{},
		&models.PooledMSSSIM{},
		&models.PooledVMAF{},
	)
	require.NoError(t, err)

	return db
}

// seedFile registers a file row and returns it.
func seedFile(t *testing.T, db *gorm.DB, name, directory string) *models.File {
	t.Helper()

	file := &models.File{
		Name:      name,
		Directory: directory,
		Size:      1 << 30,
		Duration:  5400.123,
		FrameRate: 23.976,
		Frames:    129486,
	}
	require.NoError(t, db.Create(file).Error)
	return file
}

// seedProfile registers a profile row and returns it.
func seedProfile(t *testing.T, db *gorm.DB, name string) *models.Profile {
	t.Helper()

	profile := &models.Profile{
		Name:        name,
		Codec:       models.CodecH264,
		EncodeType:  models.EncodeTypeCRF,
		EncodeValue: 18,
		Preset:      "slow",
	}
	require.NoError(t, db.Create(profile).Error)
	return profile
}

// seedEncodeTask creates an encode task wired to fresh file and profile rows.
func seedEncodeTask(t *testing.T, db *gorm.DB, sourceName string) *models.EncodeTask {
	t.Helper()

	source := seedFile(t, db, sourceName, "/srv/media/input")
	profile := seedProfile(t, db, "profile-for-"+sourceName)

	task := &models.EncodeTask{
		SourceFileID: source.ID,
		ProfileID:    profile.ID,
		EncodeType:   profile.EncodeType,
		EncodeValue:  profile.EncodeValue,
		Status:       models.StatusQueued,
	}
	require.NoError(t, db.Create(task).Error)
	return task
}

// seedMetricTask creates a metric task wired to fresh file rows.
func seedMetricTask(t *testing.T, db *gorm.DB, sourceName string) *models.MetricTask {
	t.Helper()

	source := seedFile(t, db, sourceName, "/srv/media/input")
	compressed := seedFile(t, db, sourceName, "/srv/media/output/archive")

	task := &models.MetricTask{
		SourceFileID:     source.ID,
		CompressedFileID: compressed.ID,
		PSNR:             true,
		MSSSIM:           true,
		VMAF:             true,
		SubsampleRate:    1,
		Status:           models.StatusQueued,
	}
	require.NoError(t, db.Create(task).Error)
	return task
}
