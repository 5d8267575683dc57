package inventory

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltStore", func() {
	var (
		tmpDir string
		store  *BoltStore
		clock  *mockTimeSource
		ctx    context.Context
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		clock = &mockTimeSource{now: time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)}
		ctx = context.Background()
		var err error
		store, err = NewBoltStoreWithDeps(filepath.Join(tmpDir, "test.db"), &mockIDGenerator{}, clock)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	Describe("AddItem", func() {
		var (
			item   *Item
			stored *Item
			err    error
		)

		BeforeEach(func() {
			item = &Item{Name: "Milk 1L", Category: "Dairy", Quantity: 12, UnitPrice: 120}
		})

		JustBeforeEach(func() {
			stored, err = store.AddItem(ctx, item, "shop-1")
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("assigns an ID and owner", func() {
			Expect(stored.ID).To(Equal("id-1"))
			Expect(stored.OwnerKey).To(Equal("shop-1"))
		})

		It("derives the status from the quantity", func() {
			Expect(stored.Status).To(Equal(StatusInStock))
		})

		It("stamps the ISO date added", func() {
			Expect(stored.DateAdded).To(Equal("2024-03-09"))
		})

		It("does not modify the input", func() {
			Expect(item.ID).To(BeEmpty())
		})

		When("the owner key is empty", func() {
			JustBeforeEach(func() {
				stored, err = store.AddItem(ctx, item, "")
			})

			It("returns ErrInvalidItem", func() {
				Expect(err).To(MatchError(ErrInvalidItem))
				Expect(stored).To(BeNil())
			})
		})
	})

	Describe("ListItems", func() {
		var (
			items []*Item
			err   error
		)

		JustBeforeEach(func() {
			items, err = store.ListItems(ctx, "shop-1")
		})

		When("items exist", func() {
			BeforeEach(func() {
				for _, name := range []string{"Zucchini", "Apples", "Milk"} {
					_, addErr := store.AddItem(ctx, &Item{Name: name, Quantity: 1}, "shop-1")
					Expect(addErr).NotTo(HaveOccurred())
				}
				_, addErr := store.AddItem(ctx, &Item{Name: "Other", Quantity: 1}, "shop-2")
				Expect(addErr).NotTo(HaveOccurred())
			})

			It("returns only the owner's items in insertion order", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(items).To(HaveLen(3))
				Expect(items[0].Name).To(Equal("Zucchini"))
				Expect(items[1].Name).To(Equal("Apples"))
				Expect(items[2].Name).To(Equal("Milk"))
			})

			It("counts the owner's items", func() {
				count, countErr := store.CountItems(ctx, "shop-1")
				Expect(countErr).NotTo(HaveOccurred())
				Expect(count).To(Equal(3))
			})
		})

		When("the owner has no items", func() {
			It("returns an empty list", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(items).To(BeEmpty())
			})

			It("counts zero", func() {
				count, countErr := store.CountItems(ctx, "shop-1")
				Expect(countErr).NotTo(HaveOccurred())
				Expect(count).To(Equal(0))
			})
		})
	})

	Describe("plans", func() {
		It("defaults to the free plan", func() {
			plan, err := store.GetPlan(ctx, "shop-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(plan).To(Equal(PlanFree))
		})

		It("stores a plan", func() {
			Expect(store.SetPlan(ctx, "shop-1", PlanPower)).To(Succeed())
			plan, err := store.GetPlan(ctx, "shop-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(plan).To(Equal(PlanPower))
		})

		It("rejects unknown plans", func() {
			Expect(store.SetPlan(ctx, "shop-1", Plan("enterprise"))).To(MatchError(ErrUnknownPlan))
		})
	})

	It("persists across reopen", func() {
		path := filepath.Join(tmpDir, "reopen.db")
		first, err := NewBoltStore(path)
		Expect(err).NotTo(HaveOccurred())
		_, err = first.AddItem(ctx, &Item{Name: "Tea", Quantity: 3}, "shop-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Close()).To(Succeed())

		second, err := NewBoltStore(path)
		Expect(err).NotTo(HaveOccurred())
		defer second.Close()
		items, err := second.ListItems(ctx, "shop-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(1))
		Expect(items[0].Status).To(Equal(StatusLimitedStock))
	})
})
