package backup_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"trustkit/internal/domain"
	"trustkit/internal/provider"
	"trustkit/internal/services/backup"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) GetBackupVersion(ctx context.Context) (*domain.BackupVersionInfo, error) {
	args := m.Called(ctx)
	info, _ := args.Get(0).(*domain.BackupVersionInfo)
	return info, args.Error(1)
}

func (m *mockProvider) IsBackupTrusted(ctx context.Context, info domain.BackupVersionInfo) (domain.BackupTrustInfo, error) {
	args := m.Called(ctx, info)
	return args.Get(0).(domain.BackupTrustInfo), args.Error(1)
}

func (m *mockProvider) CreateRecoveryKeyFromPassphrase(ctx context.Context, passphrase string) (domain.RecoveryKey, error) {
	args := m.Called(ctx, passphrase)
	return args.Get(0).(domain.RecoveryKey), args.Error(1)
}

func (m *mockProvider) PrepareBackupVersion(ctx context.Context, key domain.RecoveryKey) (domain.PreparedBackup, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(domain.PreparedBackup), args.Error(1)
}

func (m *mockProvider) CreateBackupVersion(ctx context.Context, prepared domain.PreparedBackup) (domain.BackupVersion, error) {
	args := m.Called(ctx, prepared)
	return args.Get(0).(domain.BackupVersion), args.Error(1)
}

func (m *mockProvider) EnableBackup(ctx context.Context, info domain.BackupVersionInfo) error {
	return m.Called(ctx, info).Error(0)
}

func (m *mockProvider) DisableBackup(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockProvider) DeleteBackupVersion(ctx context.Context, version domain.BackupVersion) error {
	return m.Called(ctx, version).Error(0)
}

func (m *mockProvider) ScheduleAllSessionsForBackup(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockProvider) CountSessionsNeedingBackup(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockProvider) RestoreBackupWithKey(
	ctx context.Context, key string, info domain.BackupVersionInfo, progress func(domain.RestoreProgress),
) (domain.RestoreProgress, error) {
	args := m.Called(ctx, key, info, progress)
	return args.Get(0).(domain.RestoreProgress), args.Error(1)
}

func (m *mockProvider) RestoreBackupWithPassphrase(
	ctx context.Context, passphrase string, info domain.BackupVersionInfo, progress func(domain.RestoreProgress),
) (domain.RestoreProgress, error) {
	args := m.Called(ctx, passphrase, info, progress)
	return args.Get(0).(domain.RestoreProgress), args.Error(1)
}

var _ domain.BackupProvider = (*mockProvider)(nil)

var (
	ctx     = context.Background()
	errBoom = errors.New("boom")
	v1      = &domain.BackupVersionInfo{
		Version:   "1",
		Algorithm: domain.BackupAlgorithmMegolmV1,
		AuthData:  domain.BackupAuthData{PublicKey: "pub"},
		Count:     5,
		ETag:      "3",
	}
)

func newService(p *mockProvider, opts backup.Options) *backup.Service {
	opts.Logger = zerolog.Nop()
	return backup.New(p, opts)
}

func TestGetStatus_NoBackup(t *testing.T) {
	p := new(mockProvider)
	p.On("GetBackupVersion", mock.Anything).Return(nil, nil)

	st := newService(p, backup.Options{}).GetStatus(ctx)
	assert.Equal(t, domain.BackupStatus{}, st)
	assert.False(t, st.Enabled)
	p.AssertNotCalled(t, "IsBackupTrusted", mock.Anything, mock.Anything)
}

func TestGetStatus_Trusted(t *testing.T) {
	p := new(mockProvider)
	p.On("GetBackupVersion", mock.Anything).Return(v1, nil)
	p.On("IsBackupTrusted", mock.Anything, *v1).Return(domain.BackupTrustInfo{Usable: true}, nil)

	st := newService(p, backup.Options{}).GetStatus(ctx)
	assert.Equal(t, domain.BackupStatus{
		Enabled:      true,
		Version:      "1",
		Algorithm:    domain.BackupAlgorithmMegolmV1,
		SessionCount: 5,
		ETag:         "3",
		Trusted:      true,
	}, st)
}

func TestGetStatus_TrustCheckErrorFailsClosed(t *testing.T) {
	p := new(mockProvider)
	p.On("GetBackupVersion", mock.Anything).Return(v1, nil)
	p.On("IsBackupTrusted", mock.Anything, *v1).Return(domain.BackupTrustInfo{Usable: true}, errBoom)

	st := newService(p, backup.Options{}).GetStatus(ctx)
	assert.False(t, st.Enabled)
	assert.False(t, st.Trusted)
}

func TestGetStatus_ProviderErrorFailsClosed(t *testing.T) {
	p := new(mockProvider)
	p.On("GetBackupVersion", mock.Anything).Return(nil, errBoom)

	assert.Equal(t, domain.BackupStatus{}, newService(p, backup.Options{}).GetStatus(ctx))
}

func expectCreate(p *mockProvider, passphrase string, key domain.RecoveryKey, version domain.BackupVersion) {
	prepared := domain.PreparedBackup{
		Algorithm:   domain.BackupAlgorithmMegolmV1,
		AuthData:    domain.BackupAuthData{PublicKey: "pub-" + string(version)},
		RecoveryKey: key,
	}
	p.On("CreateRecoveryKeyFromPassphrase", mock.Anything, passphrase).Return(key, nil).Once()
	p.On("PrepareBackupVersion", mock.Anything, key).Return(prepared, nil).Once()
	p.On("CreateBackupVersion", mock.Anything, prepared).Return(version, nil).Once()
	p.On("EnableBackup", mock.Anything, domain.BackupVersionInfo{
		Version:   version,
		Algorithm: prepared.Algorithm,
		AuthData:  prepared.AuthData,
	}).Return(nil).Once()
	p.On("ScheduleAllSessionsForBackup", mock.Anything).Return(nil).Once()
}

func TestCreateBackup_StagesAndResult(t *testing.T) {
	p := new(mockProvider)
	key := domain.RecoveryKey{PrivateKey: []byte{1}, EncodedPrivateKey: "EsTc 1111"}
	expectCreate(p, "", key, "7")

	var stages []domain.BackupStage
	svc := newService(p, backup.Options{
		OnBackupProgress: func(ev domain.BackupProgressEvent) { stages = append(stages, ev.Stage) },
	})

	info, err := svc.CreateBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.BackupRecoveryInfo{RecoveryKey: "EsTc 1111", BackupVersion: "7"}, info)
	assert.Equal(t, []domain.BackupStage{
		domain.BackupStagePreparing,
		domain.BackupStageUploading,
		domain.BackupStageComplete,
	}, stages)
	p.AssertExpectations(t)
}

func TestCreateBackup_TwiceGivesDistinctKeysAndVersions(t *testing.T) {
	p := new(mockProvider)
	expectCreate(p, "", domain.RecoveryKey{PrivateKey: []byte{1}, EncodedPrivateKey: "key-one"}, "1")
	expectCreate(p, "", domain.RecoveryKey{PrivateKey: []byte{2}, EncodedPrivateKey: "key-two"}, "2")
	svc := newService(p, backup.Options{})

	first, err := svc.CreateBackup(ctx)
	require.NoError(t, err)
	second, err := svc.CreateBackup(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first.RecoveryKey, second.RecoveryKey)
	assert.NotEqual(t, first.BackupVersion, second.BackupVersion)
}

func TestCreateBackup_ScheduleFailureKeepsRecoveryKey(t *testing.T) {
	p := new(mockProvider)
	key := domain.RecoveryKey{PrivateKey: []byte{1}, EncodedPrivateKey: "EsTc 1111"}
	prepared := domain.PreparedBackup{
		Algorithm:   domain.BackupAlgorithmMegolmV1,
		AuthData:    domain.BackupAuthData{PublicKey: "pub-7"},
		RecoveryKey: key,
	}
	p.On("CreateRecoveryKeyFromPassphrase", mock.Anything, "").Return(key, nil).Once()
	p.On("PrepareBackupVersion", mock.Anything, key).Return(prepared, nil).Once()
	p.On("CreateBackupVersion", mock.Anything, prepared).Return(domain.BackupVersion("7"), nil).Once()
	p.On("EnableBackup", mock.Anything, mock.Anything).Return(nil).Once()
	p.On("ScheduleAllSessionsForBackup", mock.Anything).Return(errBoom).Once()

	var events []domain.BackupProgressEvent
	svc := newService(p, backup.Options{
		OnBackupProgress: func(ev domain.BackupProgressEvent) { events = append(events, ev) },
	})

	info, err := svc.CreateBackup(ctx)
	assert.ErrorIs(t, err, backup.ErrKeyBackup)
	assert.ErrorIs(t, err, errBoom)
	assert.NotEmpty(t, info.RecoveryKey)
	assert.Equal(t, "EsTc 1111", info.RecoveryKey)
	assert.Equal(t, domain.BackupVersion("7"), info.BackupVersion)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, domain.BackupStageError, last.Stage)
	assert.Contains(t, last.Error, "boom")
	p.AssertExpectations(t)
}

func TestCreateBackupWithPassphrase_ShortRejectedBeforeProvider(t *testing.T) {
	p := new(mockProvider)
	svc := newService(p, backup.Options{})

	_, err := svc.CreateBackupWithPassphrase(ctx, "short")
	require.Error(t, err)
	assert.ErrorIs(t, err, backup.ErrPassphraseTooShort)
	assert.ErrorIs(t, err, backup.ErrInvalidInput)
	assert.NotErrorIs(t, err, backup.ErrKeyBackup)
	p.AssertNotCalled(t, "CreateRecoveryKeyFromPassphrase", mock.Anything, mock.Anything)
}

func TestCreateBackupWithPassphrase_OK(t *testing.T) {
	p := new(mockProvider)
	key := domain.RecoveryKey{
		PrivateKey:        []byte{9},
		EncodedPrivateKey: "derived",
		Passphrase:        &domain.PassphraseInfo{Salt: "salt", Iterations: 10},
	}
	expectCreate(p, "long enough", key, "3")

	info, err := newService(p, backup.Options{}).CreateBackupWithPassphrase(ctx, "long enough")
	require.NoError(t, err)
	assert.Equal(t, "long enough", info.Passphrase)
	assert.Equal(t, domain.BackupVersion("3"), info.BackupVersion)
}

func TestCreateBackup_ProviderFailureIsTyped(t *testing.T) {
	p := new(mockProvider)
	key := domain.RecoveryKey{EncodedPrivateKey: "k"}
	p.On("CreateRecoveryKeyFromPassphrase", mock.Anything, "").Return(key, nil)
	p.On("PrepareBackupVersion", mock.Anything, key).Return(domain.PreparedBackup{}, errBoom)

	var last domain.BackupProgressEvent
	svc := newService(p, backup.Options{
		OnBackupProgress: func(ev domain.BackupProgressEvent) { last = ev },
	})

	_, err := svc.CreateBackup(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, backup.ErrKeyBackup)
	assert.ErrorIs(t, err, errBoom)

	var be *backup.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backup.KindKeyBackup, be.Kind)
	assert.Equal(t, domain.BackupStageError, last.Stage)
	assert.NotEmpty(t, last.Error)
}

func TestCreateBackupWithPassphrase_DerivationFailureIsPassphraseKind(t *testing.T) {
	p := new(mockProvider)
	p.On("CreateRecoveryKeyFromPassphrase", mock.Anything, "long enough").Return(domain.RecoveryKey{}, errBoom)

	_, err := newService(p, backup.Options{}).CreateBackupWithPassphrase(ctx, "long enough")
	assert.ErrorIs(t, err, backup.ErrPassphrase)
}

func TestValidatePassphrase(t *testing.T) {
	svc := newService(new(mockProvider), backup.Options{MinPassphraseLength: 10})

	assert.ErrorIs(t, svc.ValidatePassphrase("123456789", "123456789"), backup.ErrPassphraseTooShort)
	assert.ErrorIs(t, svc.ValidatePassphrase("1234567890", "1234567899"), backup.ErrPassphraseMismatch)
	assert.NoError(t, svc.ValidatePassphrase("1234567890", "1234567890"))
}

func TestRestoreFromRecoveryKey_UntrustedStillSucceeds(t *testing.T) {
	p := new(mockProvider)
	p.On("GetBackupVersion", mock.Anything).Return(v1, nil)
	p.On("RestoreBackupWithKey", mock.Anything, "EsTc key", *v1, mock.Anything).
		Run(func(args mock.Arguments) {
			progress := args.Get(3).(func(domain.RestoreProgress))
			progress(domain.RestoreProgress{Imported: 1, Total: 2})
			progress(domain.RestoreProgress{Imported: 2, Total: 2})
		}).
		Return(domain.RestoreProgress{Imported: 2, Total: 2}, nil)
	p.On("IsBackupTrusted", mock.Anything, *v1).Return(domain.BackupTrustInfo{Usable: false}, nil)

	var events []domain.BackupProgressEvent
	svc := newService(p, backup.Options{
		OnRestoreProgress: func(ev domain.BackupProgressEvent) { events = append(events, ev) },
	})

	res, err := svc.RestoreFromRecoveryKey(ctx, "  EsTc key \n")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.True(t, res.Status.Enabled)
	assert.False(t, res.Status.Trusted)
	assert.Len(t, res.Warnings, 1)

	require.Len(t, events, 4)
	assert.Equal(t, domain.BackupStagePreparing, events[0].Stage)
	assert.Equal(t, domain.BackupStageImporting, events[1].Stage)
	assert.Equal(t, 2, events[2].Imported)
	assert.Equal(t, domain.BackupStageComplete, events[3].Stage)
}

func TestRestoreFromRecoveryKey_TrustCheckErrorIsWarning(t *testing.T) {
	p := new(mockProvider)
	p.On("GetBackupVersion", mock.Anything).Return(v1, nil)
	p.On("RestoreBackupWithKey", mock.Anything, "key", *v1, mock.Anything).
		Return(domain.RestoreProgress{Imported: 5, Total: 5}, nil)
	p.On("IsBackupTrusted", mock.Anything, *v1).Return(domain.BackupTrustInfo{}, errBoom)

	res, err := newService(p, backup.Options{}).RestoreFromRecoveryKey(ctx, "key")
	require.NoError(t, err)
	assert.False(t, res.Status.Trusted)
	assert.NotEmpty(t, res.Warnings)
}

func TestRestoreFromRecoveryKey_Errors(t *testing.T) {
	t.Run("empty key", func(t *testing.T) {
		p := new(mockProvider)
		_, err := newService(p, backup.Options{}).RestoreFromRecoveryKey(ctx, "   ")
		assert.ErrorIs(t, err, backup.ErrEmptyRecoveryKey)
		p.AssertNotCalled(t, "GetBackupVersion", mock.Anything)
	})

	t.Run("no backup", func(t *testing.T) {
		p := new(mockProvider)
		p.On("GetBackupVersion", mock.Anything).Return(nil, nil)
		_, err := newService(p, backup.Options{}).RestoreFromRecoveryKey(ctx, "key")
		assert.ErrorIs(t, err, backup.ErrBackupNotEnabled)
	})

	t.Run("decrypt failure", func(t *testing.T) {
		p := new(mockProvider)
		p.On("GetBackupVersion", mock.Anything).Return(v1, nil)
		p.On("RestoreBackupWithKey", mock.Anything, "key", *v1, mock.Anything).
			Return(domain.RestoreProgress{}, errBoom)
		_, err := newService(p, backup.Options{}).RestoreFromRecoveryKey(ctx, "key")
		assert.ErrorIs(t, err, backup.ErrKeyBackup)
		assert.ErrorIs(t, err, errBoom)
	})
}

func TestRestoreFromPassphrase(t *testing.T) {
	p := new(mockProvider)
	p.On("GetBackupVersion", mock.Anything).Return(v1, nil)
	p.On("RestoreBackupWithPassphrase", mock.Anything, "wrong words", *v1, mock.Anything).
		Return(domain.RestoreProgress{}, errBoom)

	svc := newService(p, backup.Options{})
	_, err := svc.RestoreFromPassphrase(ctx, "wrong words")
	assert.ErrorIs(t, err, backup.ErrPassphrase)

	_, err = svc.RestoreFromPassphrase(ctx, "")
	assert.ErrorIs(t, err, backup.ErrEmptyPassphrase)
}

func TestDeleteBackup(t *testing.T) {
	t.Run("deletes and disables", func(t *testing.T) {
		p := new(mockProvider)
		p.On("GetBackupVersion", mock.Anything).Return(v1, nil)
		p.On("DeleteBackupVersion", mock.Anything, domain.BackupVersion("1")).Return(nil)
		p.On("DisableBackup", mock.Anything).Return(nil)

		require.NoError(t, newService(p, backup.Options{}).DeleteBackup(ctx))
		p.AssertExpectations(t)
	})

	t.Run("requires a version", func(t *testing.T) {
		p := new(mockProvider)
		p.On("GetBackupVersion", mock.Anything).Return(nil, nil)

		err := newService(p, backup.Options{}).DeleteBackup(ctx)
		assert.ErrorIs(t, err, backup.ErrBackupNotEnabled)
		p.AssertNotCalled(t, "DeleteBackupVersion", mock.Anything, mock.Anything)
	})

	t.Run("server failure", func(t *testing.T) {
		p := new(mockProvider)
		p.On("GetBackupVersion", mock.Anything).Return(v1, nil)
		p.On("DeleteBackupVersion", mock.Anything, domain.BackupVersion("1")).Return(errBoom)

		err := newService(p, backup.Options{}).DeleteBackup(ctx)
		assert.ErrorIs(t, err, backup.ErrKeyBackup)
		p.AssertNotCalled(t, "DisableBackup", mock.Anything)
	})
}

func TestIsBackedUp(t *testing.T) {
	cases := []struct {
		name    string
		info    *domain.BackupVersionInfo
		infoErr error
		pending int
		cntErr  error
		want    bool
	}{
		{name: "all uploaded", info: v1, pending: 0, want: true},
		{name: "pending sessions", info: v1, pending: 2, want: false},
		{name: "no backup", info: nil, pending: 0, want: false},
		{name: "version error", infoErr: errBoom, want: false},
		{name: "count error", info: v1, cntErr: errBoom, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := new(mockProvider)
			p.On("GetBackupVersion", mock.Anything).Return(tc.info, tc.infoErr)
			p.On("CountSessionsNeedingBackup", mock.Anything).Return(tc.pending, tc.cntErr)

			assert.Equal(t, tc.want, newService(p, backup.Options{}).IsBackedUp(ctx))
		})
	}
}

func TestBackupAllKeys(t *testing.T) {
	p := new(mockProvider)
	p.On("ScheduleAllSessionsForBackup", mock.Anything).Return(nil).Once()
	p.On("ScheduleAllSessionsForBackup", mock.Anything).Return(errBoom).Once()
	svc := newService(p, backup.Options{})

	assert.NoError(t, svc.BackupAllKeys(ctx))
	assert.ErrorIs(t, svc.BackupAllKeys(ctx), backup.ErrKeyBackup)
}

func TestGetBackupProgress(t *testing.T) {
	p := new(mockProvider)
	p.On("CountSessionsNeedingBackup", mock.Anything).Return(3, nil)
	p.On("GetBackupVersion", mock.Anything).Return(v1, nil)

	got := newService(p, backup.Options{}).GetBackupProgress(ctx)
	assert.Equal(t, domain.BackupProgress{Total: 8, Remaining: 3, BackedUp: 5}, got)
}

func TestGetBackupProgress_DegradesToZero(t *testing.T) {
	p := new(mockProvider)
	p.On("CountSessionsNeedingBackup", mock.Anything).Return(0, errBoom)

	assert.Equal(t, domain.BackupProgress{}, newService(p, backup.Options{}).GetBackupProgress(ctx))
}

func TestAfterDeviceVerified(t *testing.T) {
	t.Run("trusted schedules upload", func(t *testing.T) {
		p := new(mockProvider)
		p.On("GetBackupVersion", mock.Anything).Return(v1, nil)
		p.On("IsBackupTrusted", mock.Anything, *v1).Return(domain.BackupTrustInfo{Usable: true}, nil)
		p.On("ScheduleAllSessionsForBackup", mock.Anything).Return(nil)

		st, err := newService(p, backup.Options{}).AfterDeviceVerified(ctx)
		require.NoError(t, err)
		assert.True(t, st.Trusted)
		p.AssertCalled(t, "ScheduleAllSessionsForBackup", mock.Anything)
	})

	t.Run("untrusted does not upload", func(t *testing.T) {
		p := new(mockProvider)
		p.On("GetBackupVersion", mock.Anything).Return(v1, nil)
		p.On("IsBackupTrusted", mock.Anything, *v1).Return(domain.BackupTrustInfo{}, nil)

		st, err := newService(p, backup.Options{}).AfterDeviceVerified(ctx)
		require.NoError(t, err)
		assert.False(t, st.Trusted)
		p.AssertNotCalled(t, "ScheduleAllSessionsForBackup", mock.Anything)
	})

	t.Run("trust check error", func(t *testing.T) {
		p := new(mockProvider)
		p.On("GetBackupVersion", mock.Anything).Return(v1, nil)
		p.On("IsBackupTrusted", mock.Anything, *v1).Return(domain.BackupTrustInfo{}, errBoom)

		_, err := newService(p, backup.Options{}).AfterDeviceVerified(ctx)
		assert.ErrorIs(t, err, backup.ErrBackupTrust)
	})
}

func TestUnavailableProvider_DegradesAndFails(t *testing.T) {
	ctx := context.Background()
	svc := backup.New(provider.Unavailable{}, backup.Options{Logger: zerolog.Nop()})

	assert.Equal(t, domain.BackupStatus{}, svc.GetStatus(ctx))
	assert.False(t, svc.IsBackedUp(ctx))
	assert.Equal(t, domain.BackupProgress{}, svc.GetBackupProgress(ctx))

	_, err := svc.CreateBackup(ctx)
	assert.ErrorIs(t, err, backup.ErrKeyBackup)
	assert.ErrorIs(t, err, provider.ErrUnavailable)
}
