package camera

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"physicalmcp/internal/config"
	"physicalmcp/internal/storage"
)

var ErrCameraNotFound = errors.New("camera_not_found")

// Camera bundles a registered camera with its capture source and frame ring.
type Camera struct {
	ID         string
	Name       string
	Kind       string
	Device     string
	Resolution string
	FPS        int
	Enabled    bool
	CreatedAt  time.Time

	Source *Source
	Ring   *Ring
}

// Manager is the camera registry. Cameras come from config at startup and may
// be added at runtime over HTTP; runtime additions persist in SQLite so they
// survive restarts.
type Manager struct {
	mu      sync.RWMutex
	cameras map[string]*Camera
	store   *storage.Store
	log     zerolog.Logger
}

func NewManager(store *storage.Store, log zerolog.Logger) *Manager {
	return &Manager{
		cameras: make(map[string]*Camera),
		store:   store,
		log:     log.With().Str("component", "cameras").Logger(),
	}
}

// LoadFromConfig registers configured cameras, then layers persisted runtime
// cameras on top (config wins on id conflict).
func (m *Manager) LoadFromConfig(cams []config.CameraConfig) error {
	for _, cc := range cams {
		cam := &Camera{
			ID:         cc.ID,
			Name:       cc.Name,
			Kind:       cc.Kind,
			Device:     cc.Device,
			Resolution: cc.Resolution,
			FPS:        cc.FPS,
			Enabled:    cc.IsEnabled(),
			CreatedAt:  time.Now().UTC(),
		}
		if err := m.register(cam, false); err != nil {
			return err
		}
	}

	if m.store == nil {
		return nil
	}
	records, err := m.store.ListCameras()
	if err != nil {
		m.log.Warn().Err(err).Msg("loading persisted cameras failed")
		return nil
	}
	for _, rec := range records {
		if _, err := m.Get(rec.ID); err == nil {
			continue
		}
		cam := &Camera{
			ID:         rec.ID,
			Name:       rec.Name,
			Kind:       rec.Kind,
			Device:     rec.Device,
			Resolution: rec.Resolution,
			FPS:        rec.FPS,
			Enabled:    rec.Enabled,
			CreatedAt:  rec.CreatedAt,
		}
		if err := m.register(cam, false); err != nil {
			m.log.Warn().Err(err).Str("camera_id", rec.ID).Msg("skipping persisted camera")
		}
	}
	return nil
}

// Register adds a camera at runtime and persists it.
func (m *Manager) Register(cam *Camera) error {
	return m.register(cam, true)
}

func (m *Manager) register(cam *Camera, persist bool) error {
	switch cam.Kind {
	case "usb", "rtsp", "http":
	default:
		return fmt.Errorf("unknown camera kind %q", cam.Kind)
	}
	if cam.FPS <= 0 {
		cam.FPS = 2
	}
	if cam.Name == "" {
		cam.Name = cam.ID
	}
	if cam.CreatedAt.IsZero() {
		cam.CreatedAt = time.Now().UTC()
	}
	cam.Ring = NewRing(DefaultRingCapacity)
	cam.Source = NewSource(cam.ID, cam.Device, cam.Kind, cam.Resolution, cam.FPS, cam.Ring, m.log)

	m.mu.Lock()
	if _, exists := m.cameras[cam.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("camera %q already registered", cam.ID)
	}
	m.cameras[cam.ID] = cam
	m.mu.Unlock()

	if persist && m.store != nil {
		rec := &storage.CameraRecord{
			ID:         cam.ID,
			Name:       cam.Name,
			Kind:       cam.Kind,
			Device:     cam.Device,
			Resolution: cam.Resolution,
			FPS:        cam.FPS,
			Enabled:    cam.Enabled,
			CreatedAt:  cam.CreatedAt,
		}
		if err := m.store.SaveCamera(rec); err != nil {
			m.log.Warn().Err(err).Str("camera_id", cam.ID).Msg("persisting camera failed")
		}
	}
	m.log.Info().Str("camera_id", cam.ID).Str("device", MaskCredentials(cam.Device)).Msg("camera registered")
	return nil
}

func (m *Manager) Get(id string) (*Camera, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cam, ok := m.cameras[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}
	return cam, nil
}

// Default returns the first enabled camera, for endpoints that omit
// camera_id on single-camera setups.
func (m *Manager) Default() (*Camera, error) {
	cams := m.List()
	for _, cam := range cams {
		if cam.Enabled {
			return cam, nil
		}
	}
	return nil, fmt.Errorf("%w: no enabled cameras", ErrCameraNotFound)
}

func (m *Manager) List() []*Camera {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Camera, 0, len(m.cameras))
	for _, cam := range m.cameras {
		out = append(out, cam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	cam, ok := m.cameras[id]
	if ok {
		delete(m.cameras, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}
	cam.Source.Close()
	if m.store != nil {
		if err := m.store.DeleteCamera(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			m.log.Warn().Err(err).Str("camera_id", id).Msg("deleting persisted camera failed")
		}
	}
	return nil
}

// CloseAll releases every capture source.
func (m *Manager) CloseAll() {
	for _, cam := range m.List() {
		cam.Source.Close()
	}
}

// Discovered describes a LAN host that answered a camera-port probe.
type Discovered struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Kind string `json:"kind"` // rtsp | http
	Hint string `json:"hint"`
}

var probePorts = []struct {
	port int
	kind string
	hint string
}{
	{554, "rtsp", "rtsp://<host>:554/"},
	{8554, "rtsp", "rtsp://<host>:8554/"},
	{8080, "http", "http://<host>:8080/image.jpg"},
	{81, "http", "http://<host>:81/snapshot.jpg"},
}

// Discover probes the local /24 for common camera ports. Best effort; a probe
// is one TCP dial with a short timeout.
func (m *Manager) Discover(ctx context.Context) ([]Discovered, error) {
	base, err := localSubnet()
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		found []Discovered
		wg    sync.WaitGroup
	)
	sem := make(chan struct{}, 64)
	dialer := net.Dialer{Timeout: 300 * time.Millisecond}

	for i := 1; i < 255; i++ {
		host := fmt.Sprintf("%s.%d", base, i)
		for _, p := range probePorts {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(host string, port int, kind, hint string) {
				defer wg.Done()
				defer func() { <-sem }()
				conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
				if err != nil {
					return
				}
				conn.Close()
				mu.Lock()
				found = append(found, Discovered{
					Host: host,
					Port: port,
					Kind: kind,
					Hint: strings.ReplaceAll(hint, "<host>", host),
				})
				mu.Unlock()
			}(host, p.port, p.kind, p.hint)
		}
	}
	wg.Wait()

	sort.Slice(found, func(i, j int) bool {
		if found[i].Host != found[j].Host {
			return found[i].Host < found[j].Host
		}
		return found[i].Port < found[j].Port
	})
	return found, nil
}

// localSubnet returns the first non-loopback IPv4 /24 prefix ("192.168.1").
func localSubnet() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		return fmt.Sprintf("%d.%d.%d", ip4[0], ip4[1], ip4[2]), nil
	}
	return "", errors.New("no usable IPv4 interface")
}
