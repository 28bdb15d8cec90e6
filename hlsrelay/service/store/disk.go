package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-analyze/bulk"
	"github.com/klauspost/compress/zstd"
)

const (
	archiveMagic      = "FLOWARC\x00"
	archiveVersion    = 1
	archiveHeaderSize = 12 // magic(8) + version(4)
	archiveDataFile   = "archive.bin"
	archiveCompactTmp = "archive.compact"
)

var ErrClosed = errors.New("storage closed")

// ArchiveConfig configures the on-disk flow archive.
type ArchiveConfig struct {
	Dir                 string // optional, auto-created temp dir if empty
	CompactionThreshold int64  // rewrite file when dead bytes exceed this
	ZSTDLevel           int    // compression level (1-21)
}

// DefaultArchiveConfig returns config with sensible defaults.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		CompactionThreshold: 32 * 1024 * 1024,
		ZSTDLevel:           6, // flows are written once on the request path, keep it cheap
	}
}

// archiveEntry locates one record in the data file.
type archiveEntry struct {
	offset int64
	length int // compressed+encrypted length
}

// archiveStore is a write-through append-only blob file. Every Set is
// compressed and encrypted before it touches disk: recorded flows carry the
// tokens and cookies the relay injects, and the archive must not leak them
// in plaintext. The key is ephemeral, so the archive dies with the process.
type archiveStore struct {
	mu sync.Mutex // protects all state

	index map[string]*archiveEntry

	dir      string
	ownsDir  bool
	dataFile *os.File
	fileSize int64
	// deadBytes counts file space owned by overwritten or deleted records.
	deadBytes        int64
	compactThreshold int64
	encKey           []byte
	gcm              cipher.AEAD

	// EncodeAll/DecodeAll are thread-safe
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder

	wg             sync.WaitGroup
	compactRunning bool
	closed         bool
}

var _ Storage = (*archiveStore)(nil)

// NewArchiveStore creates an encrypted on-disk Storage implementation.
func NewArchiveStore(cfg ArchiveConfig) (Storage, error) {
	dir := cfg.Dir
	var ownsDir bool
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "hlsrelay-archive-*")
		if err != nil {
			return nil, err
		}
		ownsDir = true
	} else {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}

	encKey := make([]byte, 32)
	if _, err := rand.Read(encKey); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	dataPath := filepath.Join(dir, archiveDataFile)
	dataFile, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	if _, err := dataFile.Write(archiveHeader()); err != nil {
		_ = dataFile.Close()
		_ = os.RemoveAll(dir)
		return nil, err
	}

	zstdEncoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.ZSTDLevel)))
	if err != nil {
		_ = dataFile.Close()
		_ = os.RemoveAll(dir)
		return nil, err
	}
	zstdDecoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = zstdEncoder.Close()
		_ = dataFile.Close()
		_ = os.RemoveAll(dir)
		return nil, err
	}

	threshold := cfg.CompactionThreshold
	if threshold <= 0 {
		threshold = DefaultArchiveConfig().CompactionThreshold
	}

	return &archiveStore{
		index:            make(map[string]*archiveEntry),
		dir:              dir,
		ownsDir:          ownsDir,
		dataFile:         dataFile,
		fileSize:         archiveHeaderSize,
		compactThreshold: threshold,
		encKey:           encKey,
		gcm:              gcm,
		zstdEncoder:      zstdEncoder,
		zstdDecoder:      zstdDecoder,
	}, nil
}

func archiveHeader() []byte {
	header := make([]byte, archiveHeaderSize)
	copy(header[0:8], archiveMagic)
	binary.LittleEndian.PutUint32(header[8:12], archiveVersion)
	return header
}

func (s *archiveStore) Set(key string, blob []byte) error {
	// Compress and encrypt before taking the lock.
	encrypted := s.compressAndEncrypt(blob)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if existing, ok := s.index[key]; ok {
		s.deadBytes += int64(existing.length)
	}

	offset := s.fileSize
	n, err := s.dataFile.WriteAt(encrypted, offset)
	if err != nil {
		return err
	}
	s.index[key] = &archiveEntry{offset: offset, length: n}
	s.fileSize += int64(n)

	s.maybeStartCompaction()
	return nil
}

func (s *archiveStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrClosed
	}
	entry, ok := s.index[key]
	if !ok {
		return nil, false, nil
	}

	// Reads hold the lock so compaction cannot swap the file underneath.
	// Records are small and reads are interactive; contention is not a
	// concern here.
	encrypted := make([]byte, entry.length)
	if _, err := s.dataFile.ReadAt(encrypted, entry.offset); err != nil {
		return nil, false, err
	}
	data, err := s.decryptAndDecompress(encrypted)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *archiveStore) KeySet() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return bulk.MapKeysSlice(s.index)
}

func (s *archiveStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.index)
}

func (s *archiveStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	entry, ok := s.index[key]
	if !ok {
		return nil
	}
	delete(s.index, key)
	s.deadBytes += int64(entry.length)
	s.maybeStartCompaction()
	return nil
}

func (s *archiveStore) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.index = make(map[string]*archiveEntry)
	s.deadBytes = 0

	err := s.dataFile.Truncate(archiveHeaderSize)
	s.fileSize = archiveHeaderSize
	return err
}

func (s *archiveStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()

	s.index = make(map[string]*archiveEntry)
	// Zero the encryption key
	for i := range s.encKey {
		s.encKey[i] = 0
	}

	_ = s.zstdEncoder.Close()
	s.zstdDecoder.Close()

	_ = s.dataFile.Close()
	if s.ownsDir {
		return os.RemoveAll(s.dir)
	}
	// After a compaction the handle's recorded name is the temp path, so
	// remove the canonical file by its fixed name.
	return os.Remove(filepath.Join(s.dir, archiveDataFile))
}

// maybeStartCompaction spawns the compaction goroutine if dead space has
// grown past the threshold. Must be called with s.mu held.
func (s *archiveStore) maybeStartCompaction() {
	if s.deadBytes > s.compactThreshold && !s.compactRunning {
		s.compactRunning = true
		s.wg.Add(1)
		go s.runCompaction()
	}
}

// runCompaction reclaims dead space by rewriting the data file with only the
// live records. Holds the lock for the entire rewrite; the archive is append
// mostly, so compaction is rare.
func (s *archiveStore) runCompaction() {
	s.mu.Lock()
	defer func() {
		s.compactRunning = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	if s.closed {
		return
	}

	if len(s.index) == 0 {
		if err := s.dataFile.Truncate(archiveHeaderSize); err != nil {
			log.Printf("store: compaction truncate error: %v", err)
			return
		}
		s.fileSize = archiveHeaderSize
		s.deadBytes = 0
		return
	}

	newPath := filepath.Join(s.dir, archiveCompactTmp)
	newFile, err := os.OpenFile(newPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		log.Printf("store: compaction create error: %v", err)
		return
	}
	if _, err := newFile.Write(archiveHeader()); err != nil {
		log.Printf("store: compaction header write error: %v", err)
		_ = newFile.Close()
		_ = os.Remove(newPath)
		return
	}

	// Copy records one at a time to limit memory usage.
	newOffset := int64(archiveHeaderSize)
	for key, entry := range s.index {
		data := make([]byte, entry.length)
		if _, err := s.dataFile.ReadAt(data, entry.offset); err != nil {
			log.Printf("store: compaction read error for %s: %v, aborting", key, err)
			_ = newFile.Close()
			_ = os.Remove(newPath)
			return
		}
		if _, err := newFile.Write(data); err != nil {
			log.Printf("store: compaction write error: %v", err)
			_ = newFile.Close()
			_ = os.Remove(newPath)
			return
		}
		entry.offset = newOffset
		newOffset += int64(entry.length)
	}

	_ = s.dataFile.Close()
	s.dataFile = newFile
	s.fileSize = newOffset
	s.deadBytes = 0

	if err := os.Rename(newPath, filepath.Join(s.dir, archiveDataFile)); err != nil {
		log.Printf("store: compaction rename error: %v", err)
	}
}

// compressAndEncrypt compresses with ZSTD then encrypts with AES-GCM,
// prepending the nonce. Thread-safe: can be called without holding s.mu.
func (s *archiveStore) compressAndEncrypt(data []byte) []byte {
	compressed := s.zstdEncoder.EncodeAll(data, nil)

	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		panic(err) // rand.Read is documented to never return an error
	}

	ciphertext := s.gcm.Seal(nil, nonce, compressed, nil)
	result := make([]byte, 12+len(ciphertext))
	copy(result[:12], nonce)
	copy(result[12:], ciphertext)
	return result
}

// decryptAndDecompress decrypts with AES-GCM then decompresses with ZSTD.
// Thread-safe: can be called without holding s.mu.
func (s *archiveStore) decryptAndDecompress(data []byte) ([]byte, error) {
	if len(data) < 12 {
		return nil, errors.New("ciphertext too short")
	}

	nonce := data[:12]
	ciphertext := data[12:]
	plain, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}
	return s.zstdDecoder.DecodeAll(plain, nil)
}
