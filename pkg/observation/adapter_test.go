package observation_test

import (
	"errors"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semlog/pkg/entity"
	"github.com/papercomputeco/semlog/pkg/observation"
)

func malformed(err error) []*observation.MalformedObservationError {
	var out []*observation.MalformedObservationError
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			var m *observation.MalformedObservationError
			if errors.As(e, &m) {
				out = append(out, m)
			}
		}
		return out
	}
	var m *observation.MalformedObservationError
	if errors.As(err, &m) {
		out = append(out, m)
	}
	return out
}

var _ = Describe("Adapter", func() {
	var adapter *observation.Adapter

	BeforeEach(func() {
		adapter = observation.NewAdapter(entity.HandleResolver{}, nil)
	})

	It("normalizes a frame into one observation per entity", func() {
		obs, err := adapter.Normalize(observation.Frame{
			Timestamp: 100 * time.Millisecond,
			Entities: []observation.EntityState{
				{
					Handle:      "gripper",
					Position:    observation.Vec3{X: 1},
					Orientation: &observation.Quat{W: 2},
					Contacts: []observation.Contact{
						{Entity: "cup", Group: "left"},
						{Entity: "cup", Group: "left"},
						{Entity: "gripper"},
					},
				},
				{Handle: "cup"},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(obs).To(HaveLen(2))

		Expect(obs[0].Entity).To(Equal("gripper"))
		Expect(obs[0].Timestamp).To(Equal(100 * time.Millisecond))
		Expect(obs[0].Pose.Orientation).To(Equal(observation.Quat{W: 1}))
		Expect(obs[0].Contacts).To(Equal([]observation.Contact{{Entity: "cup", Group: "left"}}))

		Expect(obs[1].Pose.Orientation).To(Equal(observation.IdentityQuat))
	})

	It("drops malformed entities and keeps the rest", func() {
		obs, err := adapter.Normalize(observation.Frame{
			Timestamp: time.Second,
			Entities: []observation.EntityState{
				{Handle: ""},
				{Handle: "nan", Position: observation.Vec3{X: math.NaN()}},
				{Handle: "zeroq", Orientation: &observation.Quat{}},
				{Handle: "ok"},
				{Handle: "ok"},
			},
		})
		Expect(obs).To(HaveLen(1))
		Expect(obs[0].Entity).To(Equal("ok"))

		errs := malformed(err)
		Expect(errs).To(HaveLen(4))
		Expect(errs[1].Handle).To(Equal("nan"))
	})

	It("returns no observations when every entity is malformed", func() {
		obs, err := adapter.Normalize(observation.Frame{
			Timestamp: time.Second,
			Entities:  []observation.EntityState{{Handle: ""}, {Handle: ""}},
		})
		Expect(obs).To(BeNil())
		Expect(malformed(err)).To(HaveLen(2))

		obs, err = adapter.Normalize(observation.Frame{Timestamp: 2 * time.Second})
		Expect(err).NotTo(HaveOccurred())
		Expect(obs).NotTo(BeNil())
		Expect(obs).To(BeEmpty())
	})

	It("drops frames whose timestamp does not advance", func() {
		_, err := adapter.Normalize(observation.Frame{Timestamp: time.Second})
		Expect(err).NotTo(HaveOccurred())

		obs, err := adapter.Normalize(observation.Frame{
			Timestamp: time.Second,
			Entities:  []observation.EntityState{{Handle: "cup"}},
		})
		Expect(obs).To(BeEmpty())
		Expect(err).To(MatchError(observation.ErrNonMonotonicFrame))

		_, err = adapter.Normalize(observation.Frame{Timestamp: 2 * time.Second})
		Expect(err).NotTo(HaveOccurred())
	})

	It("accepts earlier timestamps after Reset", func() {
		_, err := adapter.Normalize(observation.Frame{Timestamp: time.Second})
		Expect(err).NotTo(HaveOccurred())

		adapter.Reset()
		_, err = adapter.Normalize(observation.Frame{Timestamp: 0})
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("Observation", func() {
	It("reports contacts and distinct contact groups", func() {
		o := observation.Observation{
			Entity: "gripper",
			Contacts: []observation.Contact{
				{Entity: "cup", Group: "left"},
				{Entity: "cup", Group: "right"},
				{Entity: "table"},
			},
		}
		Expect(o.InContactWith("cup")).To(BeTrue())
		Expect(o.InContactWith("plate")).To(BeFalse())
		Expect(o.ContactGroups("cup")).To(HaveLen(2))
		Expect(o.ContactGroups("table")).To(BeEmpty())
	})

	It("computes distances", func() {
		a := observation.Vec3{X: 0, Y: 3, Z: 0}
		b := observation.Vec3{X: 4, Y: 0, Z: 0}
		Expect(a.Distance(b)).To(BeNumerically("~", 5, 1e-9))
	})
})
