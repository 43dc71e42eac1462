package cardkit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/gogpu/cardkit/atlas"
	"github.com/gogpu/cardkit/gpucore"
)

func newTestCoordinator(t *testing.T) (*ResourceCoordinator, *gpucore.Headless) {
	t.Helper()
	ad := gpucore.NewHeadless()
	rc, err := NewResourceCoordinator(CoordinatorConfig{
		Adapter: ad,
		Atlas:   atlas.Config{InitialSize: 64, MaxSize: 256},
	})
	if err != nil {
		t.Fatalf("NewResourceCoordinator: %v", err)
	}
	return rc, ad
}

func TestCoordinatorRequiresAdapter(t *testing.T) {
	if _, err := NewResourceCoordinator(CoordinatorConfig{}); !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("err = %v, want ErrNoAdapter", err)
	}
}

func TestBindGroupBeforeFlushIsIncomplete(t *testing.T) {
	rc, _ := newTestCoordinator(t)
	if _, err := rc.BindGroup(); !errors.Is(err, ErrDescriptorIncomplete) {
		t.Fatalf("BindGroup err = %v, want ErrDescriptorIncomplete", err)
	}
}

func TestFlushBuildsCompleteDescriptor(t *testing.T) {
	rc, ad := newTestCoordinator(t)

	rc.Reserve(64)
	rc.ReservePixels(32)
	rc.CommitReservations()
	bh, err := rc.AllocateBuffer(0, "content", 64)
	if err != nil {
		t.Fatalf("AllocateBuffer: %v", err)
	}
	if err := rc.Buffer().Write(bh, []byte("hello card")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ph, err := rc.AllocatePixels(0, "pixels", 32)
	if err != nil {
		t.Fatalf("AllocatePixels: %v", err)
	}
	if err := rc.Pixels().Write(ph, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("pixel Write: %v", err)
	}
	mh, err := rc.AllocateMetadata(64)
	if err != nil {
		t.Fatalf("AllocateMetadata: %v", err)
	}
	if err := rc.WriteMetadata(mh, bytes.Repeat([]byte{0xAB}, 64)); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	th := rc.AllocateTextureHandle()
	pix := bytes.Repeat([]byte{0xFF}, 8*8*4)
	if err := rc.LinkTextureData(th, pix, 8, 8); err != nil {
		t.Fatalf("LinkTextureData: %v", err)
	}
	rc.SetUniforms(Uniforms{ViewportWidth: 800, ViewportHeight: 600})

	if err := rc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !rc.DescriptorDirty() {
		t.Fatal("descriptor should be dirty after first flush")
	}

	bg, err := rc.BindGroup()
	if err != nil {
		t.Fatalf("BindGroup: %v", err)
	}
	if bg == gpucore.InvalidID {
		t.Fatal("BindGroup returned invalid id")
	}
	if rc.DescriptorDirty() {
		t.Fatal("descriptor should be clean after rebuild")
	}

	if len(ad.BindGroups) != 1 {
		t.Fatalf("bind groups created = %d, want 1", len(ad.BindGroups))
	}
	entries := ad.BindGroups[0]
	if len(entries) != 6 {
		t.Fatalf("descriptor entries = %d, want 6", len(entries))
	}
	wantKinds := map[uint32]gpucore.BindingKind{
		BindingUniforms: gpucore.BindingBuffer,
		BindingMetadata: gpucore.BindingBuffer,
		BindingLinear:   gpucore.BindingBuffer,
		BindingAtlasTex: gpucore.BindingTexture,
		BindingSampler:  gpucore.BindingSampler,
		BindingPixels:   gpucore.BindingBuffer,
	}
	for _, e := range entries {
		if e.Kind != wantKinds[e.Binding] {
			t.Errorf("binding %d kind = %v, want %v", e.Binding, e.Kind, wantKinds[e.Binding])
		}
	}

	linear := ad.BufferData(rc.Buffer().GPUBuffer())
	if !bytes.HasPrefix(linear, []byte("hello card")) {
		t.Errorf("linear upload = %q", linear[:16])
	}
	meta := ad.BufferData(rc.Metadata().GPUBuffer())
	if meta[int(mh.Offset)] != 0xAB {
		t.Errorf("metadata upload byte = %#x, want 0xAB", meta[mh.Offset])
	}
	if ad.Submits != 1 {
		t.Errorf("submits = %d, want 1", ad.Submits)
	}
}

func TestFlushUploadsUniforms(t *testing.T) {
	rc, ad := newTestCoordinator(t)
	rc.SetUniforms(Uniforms{ViewportWidth: 1920, Zoom: 2})
	if err := rc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	id := rc.Descriptor()[0].Buffer
	data := ad.BufferData(id)
	if len(data) != UniformsSize {
		t.Fatalf("uniform buffer size = %d, want %d", len(data), UniformsSize)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(data[0:])); got != 1920 {
		t.Errorf("viewport width = %v, want 1920", got)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(data[16:])); got != 2 {
		t.Errorf("zoom = %v, want 2", got)
	}
	// AtlasSize defaults to the current atlas dimension.
	if got := math.Float32frombits(binary.LittleEndian.Uint32(data[32:])); got != 64 {
		t.Errorf("atlas size = %v, want 64", got)
	}
}

func TestBufferGrowthMarksDescriptorDirty(t *testing.T) {
	rc, _ := newTestCoordinator(t)
	rc.Reserve(64)
	rc.CommitReservations()
	if _, err := rc.AllocateBuffer(0, "a", 64); err != nil {
		t.Fatalf("AllocateBuffer: %v", err)
	}
	if err := rc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	first, err := rc.BindGroup()
	if err != nil {
		t.Fatalf("BindGroup: %v", err)
	}

	// Growing the region past its GPU mirror replaces the buffer.
	rc.Reserve(1 << 20)
	rc.CommitReservations()
	h, err := rc.AllocateBuffer(0, "a", 1<<20)
	if err != nil {
		t.Fatalf("AllocateBuffer after growth: %v", err)
	}
	if err := rc.Buffer().Write(h, []byte{1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := rc.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if !rc.DescriptorDirty() {
		t.Fatal("descriptor should be dirty after buffer replacement")
	}
	second, err := rc.BindGroup()
	if err != nil {
		t.Fatalf("BindGroup after growth: %v", err)
	}
	if second == first {
		t.Fatal("bind group should have been rebuilt")
	}
}

func TestFlushWithoutContentStillCompletes(t *testing.T) {
	rc, _ := newTestCoordinator(t)
	if err := rc.Flush(); err != nil {
		t.Fatalf("empty Flush: %v", err)
	}
	// An empty atlas still gets a texture so the descriptor can complete.
	if rc.Atlas().GPUTexture() == gpucore.InvalidID {
		t.Fatal("atlas texture missing after flush")
	}
}

func TestRegistry(t *testing.T) {
	rc, _ := newTestCoordinator(t)
	if err := rc.Register("plot-1", 7); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := rc.Register("plot-1", 7); err != nil {
		t.Fatalf("idempotent Register: %v", err)
	}
	if err := rc.Register("plot-1", 9); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("conflicting Register err = %v, want ErrNameTaken", err)
	}
	slot, ok := rc.Resolve("plot-1")
	if !ok || slot != 7 {
		t.Fatalf("Resolve = (%d, %v), want (7, true)", slot, ok)
	}
	rc.Deregister("plot-1")
	if _, ok := rc.Resolve("plot-1"); ok {
		t.Fatal("name still resolves after Deregister")
	}
}

func TestFactoryRegistry(t *testing.T) {
	rc, _ := newTestCoordinator(t)

	if _, err := NewWidget("nosuch", rc, nil); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("NewWidget(nosuch) err = %v, want ErrUnknownKind", err)
	}

	var gotArgs map[string]string
	RegisterFactory("probe", func(rc *ResourceCoordinator, args map[string]string) (Widget, error) {
		gotArgs = args
		return newTestCard(t, rc, []byte("probe")), nil
	})

	w, err := NewWidget("probe", rc, map[string]string{"rows": "4"})
	if err != nil {
		t.Fatalf("NewWidget: %v", err)
	}
	if w == nil {
		t.Fatal("NewWidget returned nil widget")
	}
	if gotArgs["rows"] != "4" {
		t.Fatalf("factory args = %v, want rows=4", gotArgs)
	}

	found := false
	for _, k := range Kinds() {
		if k == "probe" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds() = %v, missing probe", Kinds())
	}
}

func TestReleaseDropsGPUObjects(t *testing.T) {
	rc, _ := newTestCoordinator(t)
	if err := rc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := rc.BindGroup(); err != nil {
		t.Fatalf("BindGroup: %v", err)
	}
	rc.Release()
	if !rc.DescriptorDirty() {
		t.Fatal("descriptor should be dirty after Release")
	}
	if rc.Atlas().GPUTexture() != gpucore.InvalidID {
		t.Fatal("atlas texture survived Release")
	}
}
