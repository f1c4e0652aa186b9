package stylemanager

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/joeblew999/plat-mapstyle/internal/engine/memory"
	"github.com/joeblew999/plat-mapstyle/internal/runloop"
	"github.com/joeblew999/plat-mapstyle/internal/style"
)

var _ = Describe("Manager with the in-memory engine", func() {
	var (
		queue   *runloop.ManualQueue
		eng     *memory.Engine
		manager *Manager
		ops     []memory.Op
	)

	BeforeEach(func() {
		ops = nil
		queue = &runloop.ManualQueue{}
		log := zaptest.NewLogger(GinkgoT()).Sugar()
		eng = memory.New(
			memory.WithDispatcher(queue),
			memory.WithLogger(log),
			memory.WithObserver(func(op memory.Op) { ops = append(ops, op) }),
		)
		eng.RegisterStyle("mapbox://styles/streets", `{"layers": [{"id": "land", "type": "background"}]}`)
		eng.RegisterStyle("mapbox://styles/dark", `{"layers": [{"id": "night", "type": "background"}]}`)
		manager = New(eng, WithLogger(log), WithAffinity(runloop.Unchecked))
	})

	declared := func(uri, layer string) MapStyle {
		return MapStyle{URI: uri, Content: style.Group{
			style.Source{ID: "points", Type: "geojson"},
			style.Layer{ID: layer, Type: "circle", Source: "points"},
		}}
	}

	It("mounts content on top of the style document", func() {
		var o outcome
		manager.Load(declared("mapbox://styles/streets", "dots"), o.completion())
		queue.Drain()

		Expect(o.called).To(BeTrue())
		Expect(o.err).NotTo(HaveOccurred())
		Expect(eng.LayerIDs()).To(Equal([]string{"land", "dots"}))
		Expect(eng.SourceExists("points")).To(BeTrue())
	})

	It("never applies content of a superseded load", func() {
		var first, second outcome
		manager.Load(declared("mapbox://styles/streets", "streets-dots"), first.completion())
		manager.Load(declared("mapbox://styles/dark", "dark-dots"), second.completion())
		queue.Drain()

		Expect(first.err).To(MatchError(ErrCancelled))
		Expect(second.err).NotTo(HaveOccurred())
		Expect(eng.LayerIDs()).To(Equal([]string{"night", "dark-dots"}))
		for _, op := range ops {
			Expect(op.ID).NotTo(Equal("streets-dots"))
		}
	})

	It("re-mounts content after a reload", func() {
		manager.Load(declared("mapbox://styles/streets", "dots"), nil)
		queue.Drain()

		var o outcome
		manager.Reload(o.completion())
		queue.Drain()
		Expect(o.err).NotTo(HaveOccurred())
		Expect(eng.LayerIDs()).To(Equal([]string{"land", "dots"}))
	})

	It("keeps the loaded style when a reload fails", func() {
		manager.Load(declared("mapbox://styles/streets", "dots"), nil)
		queue.Drain()

		manager.Load(MapStyle{URI: "mapbox://styles/missing"}, nil)
		queue.Drain()
		Expect(manager.Phase()).To(Equal(PhaseIdle))
		Expect(eng.LayerIDs()).To(Equal([]string{"land", "dots"}))
	})
})
