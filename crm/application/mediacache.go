package application

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/whatsapp"
	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	// los stickers llegan como webp; registra el decoder en image.Decode
	_ "golang.org/x/image/webp"
)

// MediaDownloader es el pedazo del cliente Cloud API que el cache necesita.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, creds whatsapp.Credentials, mediaID string, maxBytes int64) ([]byte, string, error)
}

// MediaCache descarga los adjuntos entrantes con el token del canal y los deja
// servibles bajo /statics/media. Las URLs temporales de Meta expiran en
// minutos, así que la descarga ocurre en el momento del webhook.
type MediaCache struct {
	channels domain.IChannelRepository
	client   MediaDownloader
	baseDir  string
	basePath string // prefijo público, ej. /statics/media
	maxBytes int64
}

func NewMediaCache(channels domain.IChannelRepository, client MediaDownloader, staticsDir string, maxBytes int64) *MediaCache {
	dir := filepath.Join(staticsDir, "media")
	if err := os.MkdirAll(filepath.Join(dir, "thumbnails"), 0o755); err != nil {
		logrus.WithError(err).Warn("[CRM] Could not create media directories")
	}
	return &MediaCache{
		channels: channels,
		client:   client,
		baseDir:  dir,
		basePath: "/statics/media",
		maxBytes: maxBytes,
	}
}

// Fetch descarga el binario del media id y devuelve (url, thumbnail). Para
// imágenes y stickers genera un thumbnail de 320px; el resto de tipos no lleva.
func (m *MediaCache) Fetch(ctx context.Context, channelConnectionID string, ref whatsapp.MediaRef) (string, string, error) {
	ch, err := m.channels.GetByID(ctx, channelConnectionID)
	if err != nil {
		return "", "", err
	}
	creds := whatsapp.Credentials{PhoneNumberID: ch.ProviderPhoneNumberID, AccessToken: ch.AccessToken}

	data, mime, err := m.client.DownloadMedia(ctx, creds, ref.ProviderMediaID, m.maxBytes)
	if err != nil {
		return "", "", err
	}
	if mime == "" {
		mime = ref.MimeType
	}

	name := uuid.NewString() + extensionFor(mime, ref.Filename)
	if err := os.WriteFile(filepath.Join(m.baseDir, name), data, 0o644); err != nil {
		return "", "", err
	}
	url := m.basePath + "/" + name

	thumb := ""
	if ref.Kind == "image" || ref.Kind == "sticker" {
		if t, err := m.makeThumbnail(name, data); err != nil {
			logrus.WithError(err).Debugf("[CRM] Thumbnail skipped for %s", name)
		} else {
			thumb = t
		}
	}
	logrus.Debugf("[CRM] Media %s cached (%s, %s)", ref.ProviderMediaID, mime, humanize.Bytes(uint64(len(data))))
	return url, thumb, nil
}

func (m *MediaCache) makeThumbnail(name string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", err
	}
	small := imaging.Fit(img, 320, 320, imaging.Lanczos)
	thumbName := strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
	path := filepath.Join(m.baseDir, "thumbnails", thumbName)
	if err := imaging.Save(small, path, imaging.JPEGQuality(80)); err != nil {
		return "", err
	}
	return m.basePath + "/thumbnails/" + thumbName, nil
}

// Stats resume el uso de disco del cache para el panel de monitoreo.
func (m *MediaCache) Stats() (map[string]string, error) {
	var files int
	var total int64
	err := filepath.Walk(m.baseDir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files++
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"files":      fmt.Sprintf("%d", files),
		"total_size": humanize.Bytes(uint64(total)),
	}, nil
}

func extensionFor(mime, filename string) string {
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	// los mime del Cloud API llegan a veces con ";codecs=..."
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	switch strings.TrimSpace(mime) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4":
		return ".m4a"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
