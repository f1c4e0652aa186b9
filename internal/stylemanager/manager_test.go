package stylemanager

import (
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/joeblew999/plat-mapstyle/internal/engine"
	"github.com/joeblew999/plat-mapstyle/internal/engine/enginetest"
	"github.com/joeblew999/plat-mapstyle/internal/runloop"
	"github.com/joeblew999/plat-mapstyle/internal/style"
)

type outcome struct {
	called bool
	err    error
}

func (o *outcome) completion() Completion {
	return func(err error) {
		Expect(o.called).To(BeFalse(), "completion called twice")
		o.called, o.err = true, err
	}
}

func content(color string) style.Content {
	return style.Group{
		style.Source{ID: "s1", Type: "vector", Properties: style.Properties{"url": "mapbox://s1"}},
		style.Layer{ID: "l1", Type: "line", Source: "s1", Paint: style.Properties{"line-color": color}},
	}
}

var _ = Describe("Manager", func() {
	var (
		rec     *enginetest.Recorder
		manager *Manager
		events  []Event
		loaded  []bool
	)

	streets := MapStyle{URI: "mapbox://styles/streets", Content: content("red")}
	outdoors := MapStyle{URI: "mapbox://styles/outdoors", Content: content("green")}

	BeforeEach(func() {
		rec = enginetest.New()
		manager = New(rec,
			WithLogger(zaptest.NewLogger(GinkgoT()).Sugar()),
			WithAffinity(runloop.Unchecked),
		)
		events, loaded = nil, nil
		manager.Events().Observe(func(e Event) { events = append(events, e) })
		manager.StyleRootLoaded().Observe(func(v bool) { loaded = append(loaded, v) })
	})

	kinds := func() []EventKind {
		out := make([]EventKind, len(events))
		for i, e := range events {
			out[i] = e.Kind
		}
		return out
	}

	Context("loading a style", func() {
		It("applies content at layers-ready and completes after the engine", func() {
			var o outcome
			manager.Load(streets, o.completion())

			Expect(manager.Phase()).To(Equal(PhaseLoading))
			Expect(manager.Identity()).To(Equal(style.URI("mapbox://styles/streets")))
			Expect(rec.Methods()).To(Equal([]string{"LoadStyle(mapbox://styles/streets)"}))

			rec.LastLoad().LayersReady()
			Expect(rec.Methods()[1:]).To(Equal([]string{"AddSource(s1)", "AddLayer(l1)"}))
			Expect(o.called).To(BeFalse())
			Expect(loaded).To(Equal([]bool{false, true}))

			rec.LastLoad().Complete()
			Expect(o.called).To(BeTrue())
			Expect(o.err).NotTo(HaveOccurred())
			Expect(manager.Phase()).To(Equal(PhaseLoaded))
			Expect(loaded).To(Equal([]bool{false, true}))
		})

		It("tags every lifecycle event with the load request", func() {
			manager.Load(streets, nil)
			rec.LastLoad().LayersReady()
			rec.LastLoad().Complete()

			Expect(kinds()).To(Equal([]EventKind{EventLoadStarted, EventLayersReady, EventReconciled, EventLoadCompleted}))
			id := events[0].RequestID
			Expect(id).NotTo(Equal(uuid.Nil))
			for _, e := range events {
				Expect(e.RequestID).To(Equal(id))
			}
			Expect(events[3].Phase).To(Equal(PhaseLoaded))
		})

		It("applies the transition before the content", func() {
			manager.Load(streets, nil, WithTransition(engine.Transition{Duration: 300 * time.Millisecond}))
			rec.LastLoad().LayersReady()
			Expect(rec.Methods()[1]).To(Equal("SetTransition()"))
			Expect(rec.Transition.Duration).To(Equal(300 * time.Millisecond))
		})

		It("applies content when completion arrives without layers-ready", func() {
			var o outcome
			manager.Load(streets, o.completion())
			rec.LastLoad().Complete()
			Expect(rec.Count("AddLayer")).To(Equal(1))
			Expect(o.err).NotTo(HaveOccurred())
		})
	})

	Context("superseding a load", func() {
		It("cancels the first completion and applies only the second style's content", func() {
			var first, second outcome
			manager.Load(MapStyle{URI: "mapbox://styles/streets", Content: style.Layer{ID: "only-streets", Type: "background"}}, first.completion())
			firstLoad := rec.LastLoad()
			manager.Load(outdoors, second.completion())

			Expect(first.called).To(BeTrue())
			Expect(errors.Is(first.err, ErrCancelled)).To(BeTrue())
			var cancel *CancelError
			Expect(errors.As(first.err, &cancel)).To(BeTrue())
			Expect(cancel.Identity).To(Equal(style.URI("mapbox://styles/streets")))

			// Late callbacks of the superseded load are ignored.
			firstLoad.LayersReady()
			firstLoad.Cancel()
			firstLoad.Complete()
			Expect(rec.Count("AddLayer")).To(Equal(0))

			rec.LastLoad().LayersReady()
			rec.LastLoad().Complete()
			Expect(rec.Layers).To(HaveKey("l1"))
			Expect(rec.Layers).NotTo(HaveKey("only-streets"))
			Expect(second.called).To(BeTrue())
			Expect(second.err).NotTo(HaveOccurred())
			Expect(manager.Phase()).To(Equal(PhaseLoaded))
		})

		It("emits a cancellation event for the superseded request", func() {
			manager.Load(streets, nil)
			manager.Load(outdoors, nil)
			Expect(kinds()).To(Equal([]EventKind{EventLoadStarted, EventLoadCancelled, EventLoadStarted}))
			Expect(events[1].RequestID).To(Equal(events[0].RequestID))
			Expect(events[2].RequestID).NotTo(Equal(events[0].RequestID))
		})
	})

	Context("same identity", func() {
		BeforeEach(func() {
			s := streets
			s.Configuration = []style.ImportConfiguration{{ImportID: "basemap", Config: map[string]any{"lightPreset": "day", "showLabels": true}}}
			manager.Load(s, nil)
			rec.LastLoad().LayersReady()
			rec.LastLoad().Complete()
			rec.ClearCalls()
		})

		It("applies import configuration changes without reloading", func() {
			s := streets
			s.Configuration = []style.ImportConfiguration{{ImportID: "basemap", Config: map[string]any{"lightPreset": "night", "showLabels": true}}}
			var o outcome
			manager.Load(s, o.completion())

			Expect(rec.Count("LoadStyle")).To(Equal(0))
			Expect(rec.Methods()).To(Equal([]string{"SetStyleImportConfigProperty(basemap.lightPreset)"}))
			Expect(o.called).To(BeTrue())
			Expect(o.err).NotTo(HaveOccurred())
		})

		It("reconciles content changes incrementally", func() {
			Expect(manager.SetContent(content("blue"))).To(Succeed())
			Expect(rec.Methods()).To(Equal([]string{"SetLayerProperties(l1)"}))
			Expect(events[len(events)-1].Kind).To(Equal(EventReconciled))
			Expect(events[len(events)-1].RequestID).To(Equal(uuid.Nil))
		})
	})

	Context("while the same style is loading", func() {
		It("queues completions and runs them in order", func() {
			var calls []string
			manager.Load(streets, func(error) { calls = append(calls, "first") })
			manager.Load(streets, func(error) { calls = append(calls, "second") })
			Expect(rec.Count("LoadStyle")).To(Equal(1))

			rec.LastLoad().LayersReady()
			Expect(calls).To(BeEmpty())
			rec.LastLoad().Complete()
			Expect(calls).To(Equal([]string{"first", "second"}))
		})

		It("defers content until layers-ready", func() {
			manager.Load(streets, nil)
			Expect(manager.SetContent(content("blue"))).To(Succeed())
			Expect(rec.Count("AddLayer")).To(Equal(0))

			rec.LastLoad().LayersReady()
			Expect(rec.Calls[len(rec.Calls)-1].Props["paint"]).To(Equal(map[string]any{"line-color": "blue"}))
		})

		It("reconciles immediately once layers are ready", func() {
			var o outcome
			manager.Load(streets, nil)
			rec.LastLoad().LayersReady()
			rec.ClearCalls()

			manager.Load(MapStyle{URI: streets.URI, Content: content("blue")}, o.completion())
			Expect(rec.Methods()).To(Equal([]string{"SetLayerProperties(l1)"}))
			Expect(o.called).To(BeFalse())

			rec.LastLoad().Complete()
			Expect(o.called).To(BeTrue())
		})
	})

	Context("failures", func() {
		It("returns to idle and delivers the error", func() {
			var o outcome
			manager.Load(streets, o.completion())
			rec.LastLoad().Fail(errors.New("style not found"))

			Expect(o.err).To(MatchError("style not found"))
			Expect(manager.Phase()).To(Equal(PhaseIdle))
			Expect(manager.Identity().IsZero()).To(BeTrue())
			Expect(loaded).To(Equal([]bool{false}))

			manager.Load(streets, nil)
			Expect(rec.Count("LoadStyle")).To(Equal(2))
		})

		It("treats an engine cancellation as a CancelError", func() {
			var o outcome
			manager.Load(streets, o.completion())
			rec.LastLoad().Cancel()
			Expect(errors.Is(o.err, ErrCancelled)).To(BeTrue())
			Expect(manager.Phase()).To(Equal(PhaseIdle))
		})

		It("reverts to loaded when a reload fails", func() {
			manager.Load(streets, nil)
			rec.LastLoad().LayersReady()
			rec.LastLoad().Complete()

			var o outcome
			manager.Reload(o.completion())
			Expect(manager.Phase()).To(Equal(PhaseLoading))
			rec.LastLoad().Fail(errors.New("network"))

			Expect(o.err).To(MatchError("network"))
			Expect(manager.Phase()).To(Equal(PhaseLoaded))
			Expect(manager.Identity()).To(Equal(streets.Identity()))
			Expect(loaded).To(Equal([]bool{false, true, false, true}))
			Expect(manager.Mounted().Layers).To(HaveLen(1))
		})

		It("reports a missing style", func() {
			var o outcome
			manager.Reload(o.completion())
			Expect(o.err).To(MatchError(ErrNoStyle))
			Expect(manager.SetContent(style.Empty())).To(MatchError(ErrNoStyle))
		})
	})
})
