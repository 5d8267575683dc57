package scan

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/inventory-tracker/internal/capture"
	"github.com/zombor/inventory-tracker/internal/parsing"
	"github.com/zombor/inventory-tracker/internal/recognition"
	"github.com/zombor/inventory-tracker/internal/review"
)

const receiptText = "Milk 1L  2 x 1.20\nBread   1.50\nTOTAL    4.20"

var _ = Describe("State", func() {
	DescribeTable("transitions",
		func(from, to State, allowed bool) {
			Expect(from.CanTransition(to)).To(Equal(allowed))
		},
		Entry("idle to capturing", StateIdle, StateCapturing, true),
		Entry("capturing to cropping", StateCapturing, StateCropping, true),
		Entry("cropping to recognizing", StateCropping, StateRecognizing, true),
		Entry("recognizing to parsed", StateRecognizing, StateParsed, true),
		Entry("recognizing to cancelled", StateRecognizing, StateCancelled, true),
		Entry("parsed to committing", StateParsed, StateCommitting, true),
		Entry("parsed to cancelled", StateParsed, StateCancelled, true),
		Entry("committing to done", StateCommitting, StateDone, true),
		Entry("committing to failed", StateCommitting, StateFailed, true),
		Entry("idle to recognizing", StateIdle, StateRecognizing, false),
		Entry("cropping to cancelled", StateCropping, StateCancelled, false),
		Entry("committing to cancelled", StateCommitting, StateCancelled, false),
		Entry("done to anything", StateDone, StateIdle, false),
	)

	It("marks done, failed and cancelled as terminal", func() {
		Expect(StateDone.Terminal()).To(BeTrue())
		Expect(StateFailed.Terminal()).To(BeTrue())
		Expect(StateCancelled.Terminal()).To(BeTrue())
		Expect(StateParsed.Terminal()).To(BeFalse())
	})
})

var _ = Describe("Flow", func() {
	var (
		engines   *engineFactory
		committer *mockCommitter
		storage   *mockStorage
		opts      Options
		manager   *Manager
		flow      *Flow
		ctx       context.Context
	)

	BeforeEach(func() {
		engines = &engineFactory{texts: []string{receiptText}}
		committer = &mockCommitter{}
		storage = &mockStorage{saved: map[string][]byte{}}
		opts = Options{Language: "eng"}
		ctx = context.Background()
	})

	JustBeforeEach(func() {
		manager = NewManagerWithDeps(engines.factory, parsing.New(), committer, storage, opts, &mockIDGenerator{})
		flow = manager.Start("shop-1")
	})

	It("starts idle", func() {
		Expect(flow.ID()).To(Equal("scan-1"))
		Expect(flow.OwnerKey()).To(Equal("shop-1"))
		Expect(flow.State()).To(Equal(StateIdle))
	})

	Describe("Capture", func() {
		It("moves to cropping with the full image selected", func() {
			Expect(flow.Capture(receiptPNG(20, 10), "receipt.png")).To(Succeed())
			Expect(flow.State()).To(Equal(StateCropping))

			snap := flow.Snapshot()
			Expect(snap.Width).To(Equal(20))
			Expect(snap.Height).To(Equal(10))
			Expect(*snap.Region).To(Equal(capture.CropRegion{X: 0, Y: 0, Width: 20, Height: 10}))
		})

		It("returns to idle on an unsupported format", func() {
			err := flow.Capture([]byte("definitely not an image"), "notes.txt")
			Expect(err).To(MatchError(capture.ErrUnsupportedFormat))
			Expect(flow.State()).To(Equal(StateIdle))
			Expect(flow.Snapshot().Error).NotTo(BeEmpty())
		})

		It("can replace the image while cropping", func() {
			Expect(flow.Capture(receiptPNG(20, 10), "a.png")).To(Succeed())
			Expect(flow.Capture([]byte("junk"), "b.png")).To(MatchError(capture.ErrUnsupportedFormat))
			Expect(flow.State()).To(Equal(StateCropping))

			Expect(flow.Capture(receiptPNG(8, 8), "c.png")).To(Succeed())
			Expect(flow.Snapshot().Width).To(Equal(8))
		})
	})

	Describe("Crop", func() {
		It("is not allowed before capture", func() {
			_, err := flow.Crop(capture.Rect{Width: 1, Height: 1}, capture.Dimensions{Width: 1, Height: 1})
			Expect(err).To(MatchError(ErrInvalidTransition))
		})

		When("an image is captured", func() {
			JustBeforeEach(func() {
				Expect(flow.Capture(receiptPNG(40, 20), "receipt.png")).To(Succeed())
			})

			It("scales the displayed rectangle to native pixels", func() {
				region, err := flow.Crop(
					capture.Rect{X: 5, Y: 5, Width: 10, Height: 5},
					capture.Dimensions{Width: 20, Height: 10},
				)
				Expect(err).NotTo(HaveOccurred())
				Expect(region).To(Equal(capture.CropRegion{X: 10, Y: 10, Width: 20, Height: 10}))
				Expect(*flow.Snapshot().Region).To(Equal(region))
			})

			It("rejects a region smaller than a pixel", func() {
				_, err := flow.Crop(
					capture.Rect{X: 5, Y: 5, Width: 0.1, Height: 5},
					capture.Dimensions{Width: 400, Height: 200},
				)
				Expect(err).To(MatchError(capture.ErrInvalidRegion))
				Expect(flow.State()).To(Equal(StateCropping))
			})
		})
	})

	Describe("Recognize", func() {
		It("is not allowed before capture", func() {
			Expect(flow.Recognize(ctx)).To(MatchError(ErrInvalidTransition))
			Expect(engines.created).To(Equal(0))
		})

		When("an image is captured", func() {
			JustBeforeEach(func() {
				Expect(flow.Capture(receiptPNG(20, 10), "IMG 2024-01-05 (1).jpg")).To(Succeed())
			})

			It("parses the items and moves to parsed", func() {
				Expect(flow.Recognize(ctx)).To(Succeed())
				Expect(flow.State()).To(Equal(StateParsed))

				snap := flow.Snapshot()
				Expect(snap.Progress).To(Equal(100))
				Expect(snap.Text).To(Equal(receiptText))
				Expect(snap.Items).To(HaveLen(2))
				Expect(snap.Items[0].Name).To(Equal("Milk 1L"))
				Expect(snap.Items[0].Quantity).To(Equal(2))
				Expect(snap.Items[0].UnitPrice).To(Equal(parsing.Money(120)))
				Expect(snap.Items[1].Name).To(Equal("Bread"))
				Expect(snap.Total).To(Equal(parsing.Money(390)))
			})

			It("releases the engine", func() {
				Expect(flow.Recognize(ctx)).To(Succeed())
				Expect(engines.closed.Load()).To(Equal(int32(1)))
			})

			When("no items are found", func() {
				BeforeEach(func() {
					engines.texts = []string{"THANK YOU\nTOTAL 4.20", receiptText}
				})

				It("returns to cropping so the operator can retry", func() {
					Expect(flow.Recognize(ctx)).To(MatchError(parsing.ErrNoItemsFound))
					Expect(flow.State()).To(Equal(StateCropping))
					Expect(engines.closed.Load()).To(Equal(int32(1)))

					Expect(flow.Recognize(ctx)).To(Succeed())
					Expect(flow.State()).To(Equal(StateParsed))
					Expect(engines.closed.Load()).To(Equal(int32(2)))
				})
			})

			When("the engine cannot start", func() {
				BeforeEach(func() {
					engines.initErr = errors.New("model download failed")
				})

				It("returns ErrEngineUnavailable, releases the engine and allows a retry", func() {
					Expect(flow.Recognize(ctx)).To(MatchError(recognition.ErrEngineUnavailable))
					Expect(flow.State()).To(Equal(StateCropping))
					Expect(engines.closed.Load()).To(Equal(int32(1)))
				})
			})

			When("cancelled mid-recognition", func() {
				BeforeEach(func() {
					engines.delay = time.Second
				})

				It("ends cancelled with nothing staged and the engine released", func() {
					done := make(chan error, 1)
					go func() { done <- flow.Recognize(ctx) }()
					Eventually(flow.State).Should(Equal(StateRecognizing))
					Eventually(engines.createdCount).Should(Equal(1))

					Expect(flow.Cancel()).To(Succeed())

					var err error
					Eventually(done).Should(Receive(&err))
					Expect(err).To(MatchError(recognition.ErrCancelled))
					Expect(flow.State()).To(Equal(StateCancelled))
					Expect(flow.Snapshot().Items).To(BeEmpty())
					Eventually(engines.closed.Load).Should(Equal(int32(1)))
					Expect(committer.calls).To(Equal(0))
				})
			})
		})
	})

	Describe("Cancel", func() {
		It("is not allowed while cropping", func() {
			Expect(flow.Capture(receiptPNG(4, 4), "r.png")).To(Succeed())
			Expect(flow.Cancel()).To(MatchError(ErrInvalidTransition))
			Expect(flow.State()).To(Equal(StateCropping))
		})

		It("discards parsed items without committing", func() {
			Expect(flow.Capture(receiptPNG(4, 4), "r.png")).To(Succeed())
			Expect(flow.Recognize(ctx)).To(Succeed())
			Expect(flow.Cancel()).To(Succeed())
			Expect(flow.State()).To(Equal(StateCancelled))
			Expect(flow.Snapshot().Items).To(BeEmpty())
			Expect(flow.image).To(BeNil())
			Expect(flow.cropped).To(BeNil())
			_, err := flow.Commit(ctx)
			Expect(err).To(MatchError(ErrInvalidTransition))
			Expect(committer.calls).To(Equal(0))
		})
	})

	Describe("review and commit", func() {
		JustBeforeEach(func() {
			Expect(flow.Capture(receiptPNG(20, 10), "IMG 2024-01-05 (1).jpg")).To(Succeed())
			Expect(flow.Recognize(ctx)).To(Succeed())
		})

		It("edits and removes staged items", func() {
			Expect(flow.EditItem(1, "name", "Sourdough")).To(Succeed())
			Expect(flow.EditItem(0, "category", "Dairy")).To(Succeed())
			Expect(flow.RemoveItem(0)).To(Succeed())
			items := flow.Snapshot().Items
			Expect(items).To(HaveLen(1))
			Expect(items[0].Name).To(Equal("Sourdough"))
		})

		It("reports review errors", func() {
			Expect(flow.EditItem(5, "name", "x")).To(MatchError(review.ErrIndexOutOfRange))
			Expect(flow.EditItem(0, "colour", "x")).To(MatchError(review.ErrUnknownField))
			Expect(flow.RemoveItem(-1)).To(MatchError(review.ErrIndexOutOfRange))
		})

		It("commits the reviewed items in order for the owner", func() {
			Expect(flow.EditItem(0, "quantity", "3")).To(Succeed())
			Expect(flow.EditItem(1, "category", "Bakery")).To(Succeed())

			result, err := flow.Commit(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Succeeded).To(HaveLen(2))
			Expect(flow.State()).To(Equal(StateDone))

			Expect(committer.owner).To(Equal("shop-1"))
			Expect(committer.received).To(HaveLen(2))
			Expect(committer.received[0].Name).To(Equal("Milk 1L"))
			Expect(committer.received[0].Quantity).To(Equal(3))
			Expect(committer.received[1].Category).To(Equal("Bakery"))
		})

		It("archives the cropped receipt", func() {
			_, err := flow.Commit(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.saved).To(HaveKey("scan-1_IMG_2024-01-05_1.png"))
			Expect(flow.Snapshot().Archive).To(Equal("scan-1_IMG_2024-01-05_1.png"))

			data, err := flow.ArchivedImage()
			Expect(err).NotTo(HaveOccurred())
			img, err := capture.Load(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Width()).To(Equal(20))
		})

		It("releases the images once committed but keeps the reported size", func() {
			_, err := flow.Commit(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(flow.image).To(BeNil())
			Expect(flow.cropped).To(BeNil())

			snap := flow.Snapshot()
			Expect(snap.Width).To(Equal(20))
			Expect(snap.Height).To(Equal(10))
			Expect(snap.Items).To(HaveLen(2))
		})

		It("has no archive before commit", func() {
			_, err := flow.ArchivedImage()
			Expect(err).To(MatchError(ErrNoArchive))
		})

		It("completes even when archiving fails", func() {
			storage.saveErr = errors.New("disk full")
			_, err := flow.Commit(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(flow.State()).To(Equal(StateDone))
			Expect(flow.Snapshot().Archive).To(BeEmpty())
		})

		It("fails the flow when the committer fails", func() {
			committer.err = errors.New("quota service down")
			_, err := flow.Commit(ctx)
			Expect(err).To(MatchError(ContainSubstring("quota service down")))
			Expect(flow.State()).To(Equal(StateFailed))
			Expect(flow.image).To(BeNil())
			Expect(flow.cropped).To(BeNil())
		})

		It("cannot commit twice", func() {
			_, err := flow.Commit(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, err = flow.Commit(ctx)
			Expect(err).To(MatchError(ErrInvalidTransition))
			Expect(committer.calls).To(Equal(1))
		})

		It("does not allow edits after commit", func() {
			_, err := flow.Commit(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(flow.EditItem(0, "name", "x")).To(MatchError(ErrInvalidTransition))
		})
	})
})

var _ = Describe("Manager", func() {
	var manager *Manager

	BeforeEach(func() {
		engines := &engineFactory{texts: []string{receiptText}}
		manager = NewManagerWithDeps(engines.factory, parsing.New(), &mockCommitter{}, nil, Options{}, &mockIDGenerator{})
	})

	It("finds flows by owner and ID", func() {
		flow := manager.Start("shop-1")
		found, err := manager.Get("shop-1", flow.ID())
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeIdenticalTo(flow))
	})

	It("hides flows from other owners", func() {
		flow := manager.Start("shop-1")
		_, err := manager.Get("shop-2", flow.ID())
		Expect(err).To(MatchError(ErrScanNotFound))
	})

	It("reports unknown IDs", func() {
		_, err := manager.Get("shop-1", "nope")
		Expect(err).To(MatchError(ErrScanNotFound))
	})

	It("discards a parsed flow by cancelling it", func() {
		flow := manager.Start("shop-1")
		Expect(flow.Capture(receiptPNG(4, 4), "r.png")).To(Succeed())
		Expect(flow.Recognize(context.Background())).To(Succeed())

		state, err := manager.Discard("shop-1", flow.ID())
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(StateCancelled))

		_, err = manager.Get("shop-1", flow.ID())
		Expect(err).To(MatchError(ErrScanNotFound))
	})

	It("discards flows that cannot be cancelled as they are", func() {
		flow := manager.Start("shop-1")
		state, err := manager.Discard("shop-1", flow.ID())
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(StateIdle))
	})

	It("does not archive without storage", func() {
		flow := manager.Start("shop-1")
		Expect(flow.Capture(receiptPNG(4, 4), "r.png")).To(Succeed())
		Expect(flow.Recognize(context.Background())).To(Succeed())
		_, err := flow.Commit(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(flow.Snapshot().Archive).To(BeEmpty())
	})
})

var _ = Describe("Manager expiry", func() {
	var (
		manager *Manager
		now     time.Time
	)

	BeforeEach(func() {
		engines := &engineFactory{texts: []string{receiptText}}
		opts := Options{Retention: 10 * time.Minute, IdleTimeout: time.Hour}
		manager = NewManagerWithDeps(engines.factory, parsing.New(), &mockCommitter{}, nil, opts, &mockIDGenerator{})
		now = time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
		manager.deps.now = func() time.Time { return now }
	})

	committed := func() *Flow {
		flow := manager.Start("shop-1")
		Expect(flow.Capture(receiptPNG(4, 4), "r.png")).To(Succeed())
		Expect(flow.Recognize(context.Background())).To(Succeed())
		_, err := flow.Commit(context.Background())
		Expect(err).NotTo(HaveOccurred())
		return flow
	}

	It("keeps a finished flow for the retention period", func() {
		flow := committed()
		now = now.Add(9 * time.Minute)
		Expect(manager.Prune()).To(Equal(0))
		_, err := manager.Get("shop-1", flow.ID())
		Expect(err).NotTo(HaveOccurred())
	})

	It("drops a finished flow after the retention period", func() {
		flow := committed()
		now = now.Add(10 * time.Minute)
		Expect(manager.Prune()).To(Equal(1))
		_, err := manager.Get("shop-1", flow.ID())
		Expect(err).To(MatchError(ErrScanNotFound))
	})

	It("keeps an unfinished flow until the idle timeout", func() {
		flow := manager.Start("shop-1")
		Expect(flow.Capture(receiptPNG(4, 4), "r.png")).To(Succeed())
		now = now.Add(30 * time.Minute)
		Expect(manager.Prune()).To(Equal(0))

		now = now.Add(30 * time.Minute)
		Expect(manager.Prune()).To(Equal(1))
		Expect(manager.Len()).To(Equal(0))
	})

	It("measures idleness from the last edit", func() {
		flow := manager.Start("shop-1")
		Expect(flow.Capture(receiptPNG(4, 4), "r.png")).To(Succeed())
		Expect(flow.Recognize(context.Background())).To(Succeed())

		now = now.Add(50 * time.Minute)
		Expect(flow.EditItem(0, "category", "Dairy")).To(Succeed())
		now = now.Add(50 * time.Minute)
		Expect(manager.Prune()).To(Equal(0))
	})

	It("cancels an expired flow that was still reviewing", func() {
		flow := manager.Start("shop-1")
		Expect(flow.Capture(receiptPNG(4, 4), "r.png")).To(Succeed())
		Expect(flow.Recognize(context.Background())).To(Succeed())

		now = now.Add(time.Hour)
		Expect(manager.Prune()).To(Equal(1))
		Expect(flow.State()).To(Equal(StateCancelled))
	})

	It("prunes when a new flow starts", func() {
		committed()
		committed()
		Expect(manager.Len()).To(Equal(2))

		now = now.Add(time.Hour)
		manager.Start("shop-2")
		Expect(manager.Len()).To(Equal(1))
	})
})
