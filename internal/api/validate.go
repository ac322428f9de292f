package api

import (
	"fmt"

	"dispatchd/internal/model"
)

func validateEvent(ev *model.Event) error {
	switch ev.Type {
	case model.EventGoodsIn:
		if ev.Item == nil || ev.Item.ID == "" {
			return fmt.Errorf("goods_in requires item with id")
		}
		if ev.Item.Weight < 0 {
			return fmt.Errorf("item weight must be >= 0")
		}
	case model.EventGoodsOut:
		if ev.ItemID == "" {
			return fmt.Errorf("goods_out requires itemId")
		}
	case model.EventLocationChange:
		if ev.ItemID == "" || ev.Location == "" {
			return fmt.Errorf("location_change requires itemId and location")
		}
	case model.EventPriorityChange:
		if ev.ItemID == "" || ev.NewPriority == "" {
			return fmt.Errorf("priority_change requires itemId and newPriority")
		}
	case model.EventVehicleStatus:
		if ev.VehicleID == "" {
			return fmt.Errorf("vehicle_status requires vehicleId")
		}
	case model.EventDriverStatus:
		if ev.DriverID == "" {
			return fmt.Errorf("driver_status requires driverId")
		}
		if ev.HoursWorked < 0 {
			return fmt.Errorf("hoursWorked must be >= 0")
		}
	default:
		return fmt.Errorf("unknown event type: %s", ev.Type)
	}
	return nil
}
